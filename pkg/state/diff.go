package state

import (
	"sort"

	"github.com/openfroyo/endstate/pkg/engine"
)

// DriftItem is one app that differs between two runs.
type DriftItem struct {
	ID      string              `json:"id"`
	Ref     string              `json:"ref,omitempty"`
	StatusA engine.ActionStatus `json:"statusA,omitempty"`
	StatusB engine.ActionStatus `json:"statusB,omitempty"`
	Detail  string              `json:"detail,omitempty"`
}

// DriftReport compares the app actions of run A against run B. Field order
// and list order are fixed so that repeated serialization is byte-identical.
type DriftReport struct {
	RunA              string      `json:"runA"`
	RunB              string      `json:"runB"`
	Missing           []DriftItem `json:"missing"`
	Extra             []DriftItem `json:"extra"`
	VersionMismatches []DriftItem `json:"versionMismatches"`
}

// Empty reports whether the runs agree.
func (r *DriftReport) Empty() bool {
	return len(r.Missing) == 0 && len(r.Extra) == 0 && len(r.VersionMismatches) == 0
}

// Diff compares the app actions of a and b by id:
//   - Missing: apps that pass in b but are absent or failed in a
//   - Extra: apps in a that b no longer declares
//   - VersionMismatches: apps whose b action failed on the version
//     constraint although the app is installed, whether or not a has them
func Diff(a, b *RunState) *DriftReport {
	report := &DriftReport{
		RunA:              a.RunID,
		RunB:              b.RunID,
		Missing:           []DriftItem{},
		Extra:             []DriftItem{},
		VersionMismatches: []DriftItem{},
	}

	inA := appIndex(a)
	inB := appIndex(b)

	for id, actB := range inB {
		actA, ok := inA[id]

		if actB.Status == engine.StatusPass && (!ok || actA.Status == engine.StatusFail) {
			item := DriftItem{ID: id, Ref: actB.Ref, StatusB: actB.Status, Detail: "absent in " + a.RunID}
			if ok {
				item.StatusA = actA.Status
				item.Detail = "failed in " + a.RunID
			}
			report.Missing = append(report.Missing, item)
		}

		if actB.Status == engine.StatusFail && actB.Reason == engine.ReasonVersionMismatch {
			item := DriftItem{
				ID:      id,
				Ref:     actB.Ref,
				StatusB: actB.Status,
				Detail:  actB.Message,
			}
			if ok {
				item.StatusA = actA.Status
			}
			report.VersionMismatches = append(report.VersionMismatches, item)
		}
	}

	for id, actA := range inA {
		if _, ok := inB[id]; ok {
			continue
		}
		report.Extra = append(report.Extra, DriftItem{
			ID:      id,
			Ref:     actA.Ref,
			StatusA: actA.Status,
			Detail:  "not declared in " + b.RunID,
		})
	}

	sortItems(report.Missing)
	sortItems(report.Extra)
	sortItems(report.VersionMismatches)

	return report
}

// appIndex maps app ids to their first app action.
func appIndex(s *RunState) map[string]engine.Action {
	out := make(map[string]engine.Action, len(s.Actions))
	for _, a := range s.Actions {
		if a.Type != engine.ActionApp {
			continue
		}
		if _, seen := out[a.ID]; !seen {
			out[a.ID] = a
		}
	}
	return out
}

func sortItems(items []DriftItem) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].ID < items[j].ID
	})
}
