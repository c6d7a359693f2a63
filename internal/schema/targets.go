package schema

import "regexp"

// Value-format patterns attached to individual target fields.
var (
	postalCodePattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z\- ]{2,9}$`)
	currencyPattern   = regexp.MustCompile(`^[A-Z]{3}$`)
	urlPattern        = regexp.MustCompile(`^(https?://)?[\w\-]+(\.[\w\-]+)+(/\S*)?$`)
)

// SegmentValues is the customer segmentation domain used by organizations.
var SegmentValues = []string{"enterprise", "mid_market", "smb", "startup"}

// StageValues is the deal pipeline domain.
var StageValues = []string{
	"prospecting", "qualification", "proposal",
	"negotiation", "closed_won", "closed_lost",
}

// ActivityTypeValues is the activity classification domain.
var ActivityTypeValues = []string{"call", "email", "meeting", "note", "task"}

// targetTables lists the target schema in foreign-key dependency order:
// organizations first, then contacts, deals, activities.
var targetTables = []Table{
	{
		Name:       "organizations",
		Aliases:    []string{"orgs", "organisations", "companies", "accounts", "customers"},
		NaturalKey: []string{"name"},
		Fields: []Field{
			{Name: "name", Type: FieldText, Required: true,
				Synonyms: []string{"organization", "organisation", "company", "companyname", "co", "account", "accountname", "customer", "orgname"}},
			{Name: "email", Type: FieldEmail,
				Synonyms: []string{"emailaddress", "mail", "contactemail"}},
			{Name: "phone", Type: FieldPhone,
				Synonyms: []string{"phonenumber", "telephone", "tel", "mainphone"}},
			{Name: "website", Type: FieldURL, Pattern: urlPattern,
				Synonyms: []string{"url", "site", "homepage", "web"}},
			{Name: "industry", Type: FieldText,
				Synonyms: []string{"sector", "vertical", "businesstype"}},
			{Name: "segment", Type: FieldEnum, EnumValues: SegmentValues,
				Synonyms: []string{"tier", "marketsegment", "customersegment"}},
			{Name: "annual_revenue", Type: FieldNumeric,
				Synonyms: []string{"annualrevenue", "revenue", "yearlyrevenue", "arr"}},
			{Name: "postal_code", Type: FieldText, Pattern: postalCodePattern,
				Synonyms: []string{"postalcode", "zip", "zipcode", "postcode"}},
			{Name: "country", Type: FieldText,
				Synonyms: []string{"countryname", "nation"}},
		},
	},
	{
		Name:       "contacts",
		Aliases:    []string{"people", "persons", "leads", "contactlist"},
		NaturalKey: []string{"email"},
		References: []Reference{
			{Field: "organization", IDColumn: "organization_id", Table: "organizations", Required: true},
		},
		Fields: []Field{
			{Name: "organization", Type: FieldText, Required: true,
				Synonyms: []string{"organisation", "company", "companyname", "account", "accountname", "employer"}},
			{Name: "first_name", Type: FieldText,
				Synonyms: []string{"firstname", "givenname", "forename"}},
			{Name: "last_name", Type: FieldText,
				Synonyms: []string{"lastname", "surname", "familyname"}},
			{Name: "email", Type: FieldEmail, Required: true,
				Synonyms: []string{"emailaddress", "mail", "workemail"}},
			{Name: "phone", Type: FieldPhone,
				Synonyms: []string{"phonenumber", "telephone", "tel", "mobile", "cell"}},
			{Name: "title", Type: FieldText,
				Synonyms: []string{"jobtitle", "role", "position"}},
			{Name: "department", Type: FieldText,
				Synonyms: []string{"dept", "team", "division"}},
		},
	},
	{
		Name:       "deals",
		Aliases:    []string{"opportunities", "opps", "pipeline", "sales"},
		NaturalKey: []string{"name"},
		References: []Reference{
			{Field: "organization", IDColumn: "organization_id", Table: "organizations", Required: true},
			{Field: "contact", IDColumn: "contact_id", Table: "contacts"},
		},
		Fields: []Field{
			{Name: "name", Type: FieldText, Required: true,
				Synonyms: []string{"dealname", "opportunity", "opportunityname", "title"}},
			{Name: "organization", Type: FieldText, Required: true,
				Synonyms: []string{"organisation", "company", "companyname", "account", "accountname"}},
			{Name: "contact", Type: FieldEmail,
				Synonyms: []string{"contactemail", "primarycontact", "owneremail"}},
			{Name: "stage", Type: FieldEnum, EnumValues: StageValues,
				Synonyms: []string{"dealstage", "status", "phase", "pipelinestage"}},
			{Name: "amount", Type: FieldNumeric,
				Synonyms: []string{"value", "dealvalue", "dealsize", "price", "total"}},
			{Name: "currency", Type: FieldText, Pattern: currencyPattern,
				Synonyms: []string{"currencycode", "ccy"}},
			{Name: "close_date", Type: FieldDate,
				Synonyms: []string{"closedate", "expectedclose", "closingdate"}},
			{Name: "probability", Type: FieldNumeric,
				Synonyms: []string{"winprobability", "likelihood", "chance"}},
		},
	},
	{
		Name:       "activities",
		Aliases:    []string{"tasks", "events", "interactions", "touchpoints", "history"},
		NaturalKey: []string{"subject", "occurred_at"},
		References: []Reference{
			{Field: "deal", IDColumn: "deal_id", Table: "deals"},
			{Field: "contact", IDColumn: "contact_id", Table: "contacts"},
		},
		Fields: []Field{
			{Name: "deal", Type: FieldText,
				Synonyms: []string{"dealname", "opportunity", "opportunityname"}},
			{Name: "contact", Type: FieldEmail,
				Synonyms: []string{"contactemail", "person", "attendee"}},
			{Name: "type", Type: FieldEnum, EnumValues: ActivityTypeValues,
				Synonyms: []string{"activitytype", "kind", "category"}},
			{Name: "subject", Type: FieldText, Required: true,
				Synonyms: []string{"summary", "description", "notes", "detail"}},
			{Name: "occurred_at", Type: FieldDate, Required: true,
				Synonyms: []string{"occurredat", "date", "activitydate", "when", "duedate"}},
			{Name: "completed", Type: FieldBool,
				Synonyms: []string{"done", "iscomplete", "finished"}},
		},
	},
}
