package categorizer

import "testing"

func TestMap(t *testing.T) {
	budget := []string{"Food", "Transport", "Shopping"}

	cases := []struct {
		name       string
		external   string
		categories []string
		want       string
	}{
		{name: "exact match", external: "Food", categories: budget, want: "Food"},
		{name: "exact match ignores case", external: "FOOD", categories: budget, want: "Food"},
		{name: "exact match returns stored spelling", external: "transport", categories: budget, want: "Transport"},
		{name: "exact match wins over alias", external: "Restaurants", categories: []string{"Restaurants", "Food"}, want: "Restaurants"},
		{name: "alias restaurants", external: "Restaurants", categories: budget, want: "Food"},
		{name: "alias gas stations", external: "Gas Stations", categories: budget, want: "Transport"},
		{name: "alias general merchandise", external: "General Merchandise", categories: budget, want: "Shopping"},
		{name: "alias enum spelling", external: "FOOD_AND_DRINK", categories: budget, want: "Food"},
		{name: "alias enum merchandise", external: "GENERAL_MERCHANDISE", categories: budget, want: "Shopping"},
		{name: "alias keeps user spelling", external: "GENERAL_MERCHANDISE", categories: []string{"shopping"}, want: "shopping"},
		{name: "alias target missing from budget", external: "Restaurants", categories: []string{"Transport"}, want: "Restaurants"},
		{name: "unknown label passes through", external: "Quantum Widgets", categories: budget, want: "Quantum Widgets"},
		{name: "no categories at all", external: "Restaurants", categories: nil, want: "Restaurants"},
		{name: "empty label passes through", external: "", categories: budget, want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Map(tc.external, tc.categories)
			if got != tc.want {
				t.Fatalf("Map(%q, %v) = %q, want %q", tc.external, tc.categories, got, tc.want)
			}
		})
	}
}
