package domain

import "fmt"

// Target is one remotely hosted application kept in the running state.
type Target struct {
	ID          string
	Name        string
	APIURL      string
	IdentityURL string
	Username    string
	Password    string

	// ResourceID short-circuits the org/space/app name lookup when set.
	ResourceID string
	OrgName    string
	SpaceName  string
	AppName    string

	PingURL string
}

func (t Target) HasResourceID() bool {
	return t.ResourceID != ""
}

func (t Target) Render() string {
	if t.HasResourceID() {
		return fmt.Sprintf("%s (name=%s, api=%s, guid=%s)", t.ID, t.Name, t.APIURL, t.ResourceID)
	}
	return fmt.Sprintf("%s (name=%s, api=%s, org=%s, space=%s, app=%s)", t.ID, t.Name, t.APIURL, t.OrgName, t.SpaceName, t.AppName)
}
