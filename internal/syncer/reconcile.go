package syncer

import (
	"encoding/json"
	"fmt"

	"github.com/mrowe/qaboard/internal/devrev"
	"github.com/mrowe/qaboard/internal/store"
)

// ticketFromWork maps a remote work document onto the local ticket schema.
//
// The mapping is total: every missing optional field becomes nil. The state
// label is stored exactly as the remote reports it; the Closed→Resolved
// relabeling belongs to the read paths, never here. Only a missing id is an
// error, since id is the reconciliation key.
func ticketFromWork(w *devrev.Work) (*store.Ticket, error) {
	if w.ID == "" {
		return nil, fmt.Errorf("work document is missing an id")
	}

	displayID := w.DisplayID
	if displayID == "" {
		displayID = w.ID
	}
	typ := w.Type
	if typ == "" {
		typ = "issue"
	}

	var tags *string
	if len(w.Tags) > 0 {
		encoded, err := json.Marshal(w.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to encode tags for %s: %w", w.ID, err)
		}
		s := string(encoded)
		tags = &s
	}

	return &store.Ticket{
		ID:                w.ID,
		DisplayID:         displayID,
		Title:             w.Title,
		Body:              optional(w.Body),
		Type:              typ,
		State:             w.StateLabel(),
		StageName:         w.StageName(),
		Priority:          optional(w.Priority),
		Severity:          optional(w.Severity),
		Subtype:           optional(w.Subtype),
		CreatedDate:       w.CreatedDate,
		ModifiedDate:      w.ModifiedDate,
		TargetCloseDate:   optional(w.TargetCloseDate),
		CreatedByID:       devrev.RefID(w.CreatedBy),
		CreatedByName:     devrev.RefDisplayName(w.CreatedBy),
		ModifiedByID:      devrev.RefID(w.ModifiedBy),
		ModifiedByName:    devrev.RefDisplayName(w.ModifiedBy),
		OwnedByID:         devrev.RefID(w.OwnedBy),
		OwnedByName:       devrev.RefDisplayName(w.OwnedBy),
		ReportedByID:      devrev.RefID(w.ReportedBy),
		ReportedByName:    devrev.RefDisplayName(w.ReportedBy),
		AppliesToPartID:   devrev.RefID(w.AppliesToPart),
		AppliesToPartName: w.PartName(),
		Tags:              tags,
		SprintID:          devrev.RefID(w.Sprint),
		SprintName:        w.SprintName(),
		AutomatedTest:     w.AutomatedTestValue(),
		RawData:           string(w.Raw()),
	}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
