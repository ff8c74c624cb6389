package extract

// Field names, matching the JSON keys of crawler.PatentRecord.
const (
	FieldTitle          = "title"
	FieldAbstract       = "abstract"
	FieldClaims         = "claims"
	FieldDescription    = "description"
	FieldInventor       = "inventor"
	FieldAssignee       = "assignee"
	FieldClassification = "classification"
	FieldCitations      = "citations"
	FieldDatePublished  = "date_published"
)

// DetailFields lists the fields read from a detail page, in extraction order.
// Title is read last and only used when the search phase left it empty.
func DetailFields() []FieldSpec {
	return []FieldSpec{
		{
			Field: FieldAbstract,
			Tactics: []Tactic{
				CSSText("section#abstract"),
				CSSText("div.abstract"),
				CSSAttr("meta[name='DC.description']", "content"),
				CSSAttr("meta[name='description']", "content"),
			},
		},
		{
			Field: FieldClaims,
			Tactics: []Tactic{
				CSSText("section#claims"),
				CSSText("div.claims"),
				Regex(`(?s)<section[^>]*id="claims"[^>]*>(.*?)</section>`),
			},
		},
		{
			Field: FieldDescription,
			Tactics: []Tactic{
				CSSText("#descriptionText"),
				CSSText("section#description"),
				CSSText("div.description"),
			},
		},
		{
			Field: FieldInventor,
			Tactics: []Tactic{
				People("dl", FieldInventor),
				LabeledXPath("Inventor", ", "),
				CSSAttrList("meta[name='DC.contributor'][scheme='inventor']", "content", ", "),
			},
		},
		{
			Field: FieldAssignee,
			Tactics: []Tactic{
				People("dl", FieldAssignee),
				LabeledXPath("Assignee", ", "),
				CSSAttr("meta[name='DC.contributor'][scheme='assignee']", "content"),
			},
		},
		{
			Field: FieldClassification,
			Tactics: []Tactic{
				ClassificationScript(),
				ClassificationMarkup("classification-viewer"),
				CSSText("classification-viewer"),
			},
			Multiline: true,
		},
		{
			Field: FieldCitations,
			Tactics: []Tactic{
				Citations("div.responsive-table div.tr", "span.td"),
				Citations("tr[itemprop='backwardReferences'], tr[itemprop='forwardReferences']", "td"),
			},
			Multiline: true,
		},
		{
			Field: FieldDatePublished,
			Tactics: []Tactic{
				Timeline("div.application-timeline div.event", "div[date]", "div.flex.title"),
				CSSAttr("meta[name='DC.date']", "content"),
				Regex(`(?s)<time[^>]*itemprop="publicationDate"[^>]*>(.*?)</time>`),
			},
		},
		{
			Field: FieldTitle,
			Tactics: []Tactic{
				CSSAttr("meta[name='DC.title']", "content"),
				CSSText("h1#title"),
				CSSText("title"),
			},
		},
	}
}
