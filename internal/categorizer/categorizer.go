// Package categorizer maps aggregator category labels onto a user's budget
// categories.
package categorizer

import "strings"

// aliases translates common aggregator labels to the names household budgets
// tend to use. Keys are normalized: lower case, underscores folded to spaces,
// so both "Food and Drink" and "FOOD_AND_DRINK" hit the same row.
var aliases = map[string]string{
	"restaurants":                    "Food",
	"food and drink":                 "Food",
	"fast food":                      "Food",
	"coffee shop":                    "Food",
	"groceries":                      "Groceries",
	"supermarkets and groceries":     "Groceries",
	"gas stations":                   "Transport",
	"transportation":                 "Transport",
	"taxi":                           "Transport",
	"public transit":                 "Transport",
	"travel":                         "Travel",
	"airlines and aviation services": "Travel",
	"lodging":                        "Travel",
	"general merchandise":            "Shopping",
	"clothing and accessories":       "Shopping",
	"sporting goods":                 "Shopping",
	"entertainment":                  "Entertainment",
	"recreation":                     "Entertainment",
	"gyms and fitness centers":       "Health",
	"medical":                        "Health",
	"pharmacies":                     "Health",
	"personal care":                  "Health",
	"rent and utilities":             "Bills",
	"utilities":                      "Bills",
	"loan payments":                  "Bills",
	"bank fees":                      "Bills",
	"home improvement":               "Home",
}

func normalize(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	return strings.ReplaceAll(s, "_", " ")
}

// Map resolves an external category label to one of the user's budget
// category names. Resolution order, first match wins: exact case-insensitive
// match against a user category, alias table lookup, then the label itself
// unchanged. Whenever a budget category matches, the user's stored spelling
// is returned, so totals key consistently no matter how the aggregator cases
// its labels.
func Map(externalCategory string, userCategories []string) string {
	for _, c := range userCategories {
		if strings.EqualFold(c, externalCategory) {
			return c
		}
	}
	if alias, ok := aliases[normalize(externalCategory)]; ok {
		for _, c := range userCategories {
			if strings.EqualFold(c, alias) {
				return c
			}
		}
	}
	return externalCategory
}
