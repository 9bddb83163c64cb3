// Package models - usage_cube.go defines one cell of the system-usage datacube.
package models

import "time"

// UsageCubeRow counts events per day, action, resource type and organization
type UsageCubeRow struct {
	Day            time.Time `json:"day"`
	Action         string    `json:"action"`
	ResourceType   string    `json:"resource_type"`
	OrganizationID *string   `json:"organization_id"`
	EventCount     int64     `json:"event_count"`
	DistinctUsers  int64     `json:"distinct_users"`
	RefreshedAt    time.Time `json:"refreshed_at"`
}
