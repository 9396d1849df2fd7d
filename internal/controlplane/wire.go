package controlplane

type listResponse[T any] struct {
	Resources []T `json:"resources"`
}

type namedResource struct {
	GUID string `json:"guid"`
	Name string `json:"name"`
}

type appResource struct {
	GUID  string `json:"guid"`
	Name  string `json:"name"`
	State string `json:"state"`
}

type processResource struct {
	GUID string `json:"guid"`
	Type string `json:"type"`
}

type statsResource struct {
	Index int    `json:"index"`
	State string `json:"state"`
}
