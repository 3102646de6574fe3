package document

import (
	"fmt"

	"github.com/kokukuma/mdoc-proximity/mdoc"
)

//  https://openid.net/specs/openid-4-verifiable-presentations-1_0.html#name-digital-credentials-query-l

type DCQLQuery struct {
	Credentials    []CredentialQuery    `json:"credentials"`
	CredentialSets []CredentialSetQuery `json:"credential_sets,omitempty"`
}

type CredentialQuery struct {
	ID        string           `json:"id"`
	Format    string           `json:"format"`
	Meta      *MetaConstraints `json:"meta,omitempty"`
	Claims    []ClaimQuery     `json:"claims,omitempty"`
	ClaimSets [][]string       `json:"claim_sets,omitempty"`
}

type MetaConstraints struct {
	// For mdoc
	DocType string `json:"doctype_value,omitempty"`

	Additional map[string]interface{} `json:"additional,omitempty"`
}

type ClaimQuery struct {
	ID             string        `json:"id,omitempty"`
	Path           []interface{} `json:"path,omitempty"`
	Values         []interface{} `json:"values,omitempty"`
	IntentToRetain bool          `json:"intent_to_retain,omitempty"`
}

type CredentialSetQuery struct {
	Options  [][]string `json:"options"`
	Required *bool      `json:"required,omitempty"`
	Purpose  string     `json:"purpose,omitempty"`
}

// ItemsRequests converts the mdoc credential queries of q into items
// requests. Claim paths must be [namespace, element].
func (q DCQLQuery) ItemsRequests() ([]mdoc.ItemsRequest, error) {
	var requests []mdoc.ItemsRequest
	for _, cred := range q.Credentials {
		if cred.Format != string(CredentialTypeMDOC) {
			continue
		}
		if cred.Meta == nil || cred.Meta.DocType == "" {
			return nil, &ValidationError{Field: "meta.doctype_value", Message: fmt.Sprintf("missing for credential %s", cred.ID)}
		}
		nameSpaces := map[mdoc.NameSpace]mdoc.DataElements{}
		for _, claim := range cred.Claims {
			if len(claim.Path) != 2 {
				return nil, &ValidationError{Field: "claims.path", Message: fmt.Sprintf("unsupported path length %d", len(claim.Path))}
			}
			ns, ok1 := claim.Path[0].(string)
			id, ok2 := claim.Path[1].(string)
			if !ok1 || !ok2 {
				return nil, &ValidationError{Field: "claims.path", Message: "path elements must be strings"}
			}
			if nameSpaces[mdoc.NameSpace(ns)] == nil {
				nameSpaces[mdoc.NameSpace(ns)] = mdoc.DataElements{}
			}
			nameSpaces[mdoc.NameSpace(ns)][mdoc.ElementIdentifier(id)] = claim.IntentToRetain
		}
		requests = append(requests, mdoc.ItemsRequest{
			DocType:    mdoc.DocType(cred.Meta.DocType),
			NameSpaces: nameSpaces,
		})
	}
	return requests, nil
}
