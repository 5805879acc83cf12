package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// DefaultEndpoint is the endpoint FakeHub serves when none is given.
const DefaultEndpoint = "https://hub.test"

// FakeHub lays out repositories on a FakeTransport using the Hub URL scheme:
// a recursive tree listing per revision and resolve URLs per file.
type FakeHub struct {
	*FakeTransport
	Endpoint string

	mu    sync.Mutex
	trees map[string][]string
}

// NewFakeHub returns an empty hub served at DefaultEndpoint.
func NewFakeHub() *FakeHub {
	return &FakeHub{
		FakeTransport: NewFakeTransport(),
		Endpoint:      DefaultEndpoint,
		trees:         make(map[string][]string),
	}
}

// Client returns an http.Client backed by the fake transport.
func (h *FakeHub) Client() *http.Client {
	return &http.Client{Transport: h}
}

// TreeURL is the recursive listing URL of a repository revision.
func (h *FakeHub) TreeURL(modelID, revision string) string {
	return fmt.Sprintf("%s/api/models/%s/tree/%s?recursive=true", h.Endpoint, modelID, revision)
}

// FileURL is the resolve URL of one file of a repository revision.
func (h *FakeHub) FileURL(modelID, revision, path string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", h.Endpoint, modelID, revision, path)
}

// AddFile serves data at path and lists it in the repository tree.
func (h *FakeHub) AddFile(modelID, revision, path string, data []byte) {
	h.AddResource(modelID, revision, path, &FakeResource{Data: data})
}

// AddJSON serves the JSON encoding of v at path.
func (h *FakeHub) AddJSON(modelID, revision, path string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal %s: %v", path, err))
	}
	h.AddResource(modelID, revision, path, &FakeResource{Data: data, ContentType: "application/json"})
}

// AddResource serves resource at path and lists it in the repository tree.
func (h *FakeHub) AddResource(modelID, revision, path string, resource *FakeResource) {
	h.Add(h.FileURL(modelID, revision, path), resource)

	h.mu.Lock()
	defer h.mu.Unlock()
	key := modelID + "@" + revision
	h.trees[key] = append(h.trees[key], path)
	h.publishTree(modelID, revision, h.trees[key])
}

func (h *FakeHub) publishTree(modelID, revision string, paths []string) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	type entry struct {
		Type string `json:"type"`
		Path string `json:"path"`
		Size int    `json:"size,omitempty"`
	}
	entries := make([]entry, 0, len(sorted)+1)
	dirs := map[string]bool{}
	for _, p := range sorted {
		for i := 0; i < len(p); i++ {
			if p[i] == '/' && !dirs[p[:i]] {
				dirs[p[:i]] = true
				entries = append(entries, entry{Type: "directory", Path: p[:i]})
			}
		}
		entries = append(entries, entry{Type: "file", Path: p})
	}

	data, _ := json.Marshal(entries)
	h.Add(h.TreeURL(modelID, revision), &FakeResource{Data: data, ContentType: "application/json"})
}
