package dataset

import (
	"context"
	"reflect"
	"testing"

	"github.com/hazyhaar/ripdb/pkg/source"
)

// mockService serves the embedded fallback dataset.
func mockService(t *testing.T) *Service {
	t.Helper()
	s := newTestService(t, Config{}, &fakeFetcher{}, nil, nil)
	s.Load(context.Background())
	return s
}

func TestSearch(t *testing.T) {
	s := mockService(t)
	tests := []struct {
		query string
		want  []string
	}{
		{"bean", []string{"Sean Bean"}},
		{"  BEAN ", []string{"Sean Bean"}},
		{"an", []string{"Sean Bean", "Danny Trejo", "Gary Oldman"}},
		{"", nil},
		{"   ", nil},
		{"nobody", nil},
	}
	for _, tt := range tests {
		if got := s.Search(tt.query); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Search(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestSearch_Limit(t *testing.T) {
	f := &fakeFetcher{payloads: map[string]*source.Payload{"primary": csvPayload(manyActorsCSV(15))}}
	s := newTestService(t, Config{Sources: []source.Source{{ID: "primary"}}}, f, nil, nil)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := s.Search("bean")
	if len(got) != DefaultSearchLimit {
		t.Fatalf("results = %d, want %d", len(got), DefaultSearchLimit)
	}
	if got[0] != "Bean Clone 00" || got[9] != "Bean Clone 09" {
		t.Errorf("order = %v", got)
	}
}

func TestActor(t *testing.T) {
	s := mockService(t)

	byName := s.Actor("Sean Bean")
	byID := s.Actor("sean-bean")
	if byName == nil || byID == nil || byName.ID != byID.ID {
		t.Fatalf("lookup by name/id: %+v / %+v", byName, byID)
	}
	if byName.DeathCount != 3 || len(byName.Deaths) != 3 {
		t.Errorf("DeathCount = %d", byName.DeathCount)
	}
	if s.Actor("Nobody") != nil {
		t.Error("unknown actor should be nil")
	}

	byName.Name = "changed"
	byName.Deaths[0].MovieTitle = "changed"
	again := s.Actor("sean-bean")
	if again.Name != "Sean Bean" || again.Deaths[0].MovieTitle != "GoldenEye" {
		t.Error("Actor returned shared state")
	}
}

func TestActors_Order(t *testing.T) {
	s := mockService(t)
	var names []string
	for _, a := range s.Actors() {
		names = append(names, a.Name)
	}
	want := []string{"Sean Bean", "John Hurt", "Danny Trejo", "Gary Oldman", "Samuel L. Jackson"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Actors = %v, want %v", names, want)
	}
}

func TestAdvancedSearch(t *testing.T) {
	s := mockService(t)
	tests := []struct {
		name    string
		filters Filters
		want    []string
	}{
		{"actor", Filters{Actor: "hurt"}, []string{"Alien", "V for Vendetta"}},
		{"movie", Filters{Movie: "air force"}, []string{"Air Force One"}},
		{"genre", Filters{Genre: "horror"}, []string{"Alien"}},
		{"director", Filters{Director: "michael mann"}, []string{"Heat"}},
		{"year range", Filters{YearStart: 1994, YearEnd: 1995}, []string{"GoldenEye", "Heat", "The Professional"}},
		{"year start only", Filters{YearStart: 2006}, []string{"Machete", "Snakes on a Plane"}},
		{"death type", Filters{DeathType: "SURVIVOR"}, []string{"Machete", "Snakes on a Plane"}},
		{"combined", Filters{Actor: "bean", DeathType: "violent", YearEnd: 1993}, []string{"Patriot Games"}},
		{"no match", Filters{Actor: "bean", Genre: "horror"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, m := range s.AdvancedSearch(tt.filters) {
				got = append(got, m.Death.MovieTitle)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("titles = %v, want %v", got, tt.want)
			}
		})
	}

	all := s.AdvancedSearch(Filters{})
	if len(all) != 10 {
		t.Errorf("empty filters matched %d, want 10", len(all))
	}
	if all[0].ActorID != "sean-bean" || all[0].ActorName != "Sean Bean" {
		t.Errorf("first match = %+v", all[0])
	}
}

func TestRandomActors(t *testing.T) {
	s := mockService(t)

	got := s.RandomActors(3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	seen := map[string]bool{}
	for _, n := range got {
		if seen[n] {
			t.Errorf("duplicate %q", n)
		}
		seen[n] = true
		if s.Actor(n) == nil {
			t.Errorf("%q is not in the dataset", n)
		}
	}

	if n := len(s.RandomActors(50)); n != 5 {
		t.Errorf("RandomActors(50) = %d names, want 5", n)
	}
	if n := len(s.RandomActors(0)); n != 0 {
		t.Errorf("RandomActors(0) = %d names", n)
	}
	if n := len(s.RandomActors(-1)); n != 0 {
		t.Errorf("RandomActors(-1) = %d names", n)
	}
}

func TestStatus_Idle(t *testing.T) {
	s := newTestService(t, Config{}, &fakeFetcher{}, nil, nil)
	st := s.Status()
	if st.State != StateIdle || st.Loading || st.Actors != 0 || !st.LoadedAt.IsZero() {
		t.Errorf("idle status = %+v", st)
	}
	if s.Search("bean") != nil || len(s.Actors()) != 0 {
		t.Error("idle service should hold no data")
	}
}
