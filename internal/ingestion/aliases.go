package ingestion

import "strings"

// Canonical field names. Vendor exports spell these a dozen ways; the alias
// table maps every accepted spelling onto one of these.
const (
	FieldName           = "name"
	FieldEmail          = "email"
	FieldPhone          = "phone"
	FieldCaseNumber     = "case_number"
	FieldJudgmentAmount = "judgment_amount"
	FieldCourt          = "court"
)

// AliasTable is the fixed, versioned mapping from accepted header spellings
// to canonical field names. It is part of the pipeline's construction-time
// configuration, not global state.
type AliasTable struct {
	Version  string
	Required []string
	aliases  map[string]string
}

// DefaultAliases returns the v1 alias table for plaintiff vendor exports.
func DefaultAliases() AliasTable {
	t := AliasTable{
		Version:  "v1",
		Required: []string{FieldName},
		aliases:  make(map[string]string),
	}
	add := func(canonical string, spellings ...string) {
		t.aliases[canonical] = canonical
		for _, s := range spellings {
			t.aliases[normalizeHeader(s)] = canonical
		}
	}
	add(FieldName, "PlaintiffName", "plaintiff_name", "full_name", "FullName", "Plaintiff")
	add(FieldEmail, "EmailAddress", "email_address", "plaintiff_email", "e-mail", "E-Mail")
	add(FieldPhone, "PhoneNumber", "phone_number", "telephone")
	add(FieldCaseNumber, "CaseNumber", "case_no", "CaseNo", "docket_number")
	add(FieldJudgmentAmount, "JudgmentAmount", "judgment_amt", "amount")
	add(FieldCourt, "CourtName", "court_name")
	return t
}

// Canonical resolves a raw header to its canonical field name. The second
// return is false for headers the table does not know; those columns are
// carried through verbatim rather than dropped.
func (t AliasTable) Canonical(header string) (string, bool) {
	canonical, ok := t.aliases[normalizeHeader(header)]
	return canonical, ok
}

// normalizeHeader lowercases and collapses separator punctuation so
// "Plaintiff Name", "plaintiff-name", and "plaintiff_name" all match.
func normalizeHeader(header string) string {
	header = strings.ToLower(strings.TrimSpace(header))
	header = strings.ReplaceAll(header, " ", "_")
	header = strings.ReplaceAll(header, ".", "_")
	header = strings.ReplaceAll(header, "-", "_")
	return strings.Trim(header, "_")
}
