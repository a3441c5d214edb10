package ledger

import (
	"sort"
	"strings"

	"github.com/MYNTIST-IAM/IAM/internal/model"
)

// associationKeywords are matched, in order, between a workflow name and a
// service-account token's usage text.
var associationKeywords = []string{"ci", "deploy", "auto"}

// ResolveTokenForWorkflow deterministically picks the token an automation
// workflow should be associated with:
//
//  1. For the first keyword present in the workflow name, the
//     service-account token whose usage mentions the same keyword;
//     ties break by ascending token ID.
//  2. Otherwise the service-account token with the lowest ID.
//  3. Otherwise no match.
//
// There is deliberately no fallback to an arbitrary user token: linking an
// automation to an unrelated human credential would misattribute its
// contextual scoring factors.
func ResolveTokenForWorkflow(workflowName string, tokens []model.Token) (string, bool) {
	serviceAccounts := make([]model.Token, 0, len(tokens))
	for _, t := range tokens {
		if t.EntityType == model.EntityServiceAccount {
			serviceAccounts = append(serviceAccounts, t)
		}
	}
	if len(serviceAccounts) == 0 {
		return "", false
	}
	sort.Slice(serviceAccounts, func(i, j int) bool {
		return serviceAccounts[i].ID < serviceAccounts[j].ID
	})

	name := strings.ToLower(workflowName)
	for _, kw := range associationKeywords {
		if !strings.Contains(name, kw) {
			continue
		}
		for _, t := range serviceAccounts {
			if strings.Contains(strings.ToLower(t.Usage), kw) {
				return t.ID, true
			}
		}
	}

	return serviceAccounts[0].ID, true
}
