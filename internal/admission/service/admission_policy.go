package service

import (
	"fmt"
	"strconv"
	"strings"
)

// AdmissionPolicy is the external drop predicate applied to every decoded
// span before it reaches the buffer. A true result means the span is
// silently discarded; it is not an error.
type AdmissionPolicy interface {
	ShouldDrop(organizationID int64, projectID int64, traceID string, shard int32) bool
}

// DenyEntry matches spans by organization and project. A zero value on
// either side acts as a wildcard.
type DenyEntry struct {
	OrganizationID int64
	ProjectID      int64
}

// DenyListPolicy drops spans matching any configured entry. Decisions do not
// depend on the trace id or shard, which makes the policy safe to wrap in
// CachedAdmissionPolicy.
type DenyListPolicy struct {
	entries []DenyEntry
}

func NewDenyListPolicy(entries []DenyEntry) *DenyListPolicy {
	return &DenyListPolicy{entries: entries}
}

func (dlp *DenyListPolicy) ShouldDrop(
	organizationID int64,
	projectID int64,
	traceID string,
	shard int32,
) bool {
	for _, entry := range dlp.entries {
		orgMatches := entry.OrganizationID == 0 || entry.OrganizationID == organizationID
		projectMatches := entry.ProjectID == 0 || entry.ProjectID == projectID
		if orgMatches && projectMatches {
			return true
		}
	}
	return false
}

// ParseDenyEntries parses entries of the form "<org>:<project>" where either
// side may be empty to match any value.
func ParseDenyEntries(raw []string) ([]DenyEntry, error) {
	entries := make([]DenyEntry, 0, len(raw))
	for _, value := range raw {
		parts := strings.Split(strings.TrimSpace(value), ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid deny entry %q: expected <org>:<project>", value)
		}
		var entry DenyEntry
		var err error
		if parts[0] != "" {
			entry.OrganizationID, err = strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid organization id in deny entry %q: %w", value, err)
			}
		}
		if parts[1] != "" {
			entry.ProjectID, err = strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid project id in deny entry %q: %w", value, err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
