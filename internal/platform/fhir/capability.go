package fhir

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// OperationCapability describes an operation supported on a resource type.
type OperationCapability struct {
	Name          string `json:"name"`
	Definition    string `json:"definition"`
	Documentation string `json:"documentation,omitempty"`
}

// Canonical definitions of the terminology operations.
const (
	LookupOperationDefinition    = "http://hl7.org/fhir/OperationDefinition/CodeSystem-lookup"
	TranslateOperationDefinition = "http://hl7.org/fhir/OperationDefinition/ConceptMap-translate"
	ExpandOperationDefinition    = "http://hl7.org/fhir/OperationDefinition/ValueSet-expand"
)

// CapabilityStatement is the subset of the R4 resource served at /metadata.
type CapabilityStatement struct {
	ResourceType   string                   `json:"resourceType"`
	Status         string                   `json:"status"`
	Date           string                   `json:"date"`
	Kind           string                   `json:"kind"`
	FHIRVersion    string                   `json:"fhirVersion"`
	Format         []string                 `json:"format"`
	Software       CapabilitySoftware       `json:"software"`
	Implementation CapabilityImplementation `json:"implementation"`
	Rest           []CapabilityRest         `json:"rest"`
}

type CapabilitySoftware struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type CapabilityImplementation struct {
	Description string `json:"description"`
	URL         string `json:"url"`
}

type CapabilityRest struct {
	Mode     string               `json:"mode"`
	Resource []CapabilityResource `json:"resource"`
}

type CapabilityResource struct {
	Type        string                  `json:"type"`
	Interaction []CapabilityInteraction `json:"interaction,omitempty"`
	Operation   []OperationCapability   `json:"operation,omitempty"`
}

type CapabilityInteraction struct {
	Code string `json:"code"`
}

// CapabilityBuilder collects what each mounted handler serves so /metadata
// describes only mounted routes.
type CapabilityBuilder struct {
	mu        sync.RWMutex
	resources map[string]*CapabilityResource

	ServerName    string
	ServerVersion string
	BaseURL       string
}

func NewCapabilityBuilder(baseURL, version string) *CapabilityBuilder {
	return &CapabilityBuilder{
		resources:     make(map[string]*CapabilityResource),
		ServerName:    "AYUSH Terminology Server",
		ServerVersion: version,
		BaseURL:       baseURL,
	}
}

// AddResource registers a resource type. Repeated calls merge interactions
// and operations.
func (b *CapabilityBuilder) AddResource(resourceType string, interactions []string, operations ...OperationCapability) {
	b.mu.Lock()
	defer b.mu.Unlock()

	res, ok := b.resources[resourceType]
	if !ok {
		res = &CapabilityResource{Type: resourceType}
		b.resources[resourceType] = res
	}
	for _, code := range interactions {
		if !res.hasInteraction(code) {
			res.Interaction = append(res.Interaction, CapabilityInteraction{Code: code})
		}
	}
	for _, op := range operations {
		if !res.hasOperation(op.Name) {
			res.Operation = append(res.Operation, op)
		}
	}
}

func (r *CapabilityResource) hasInteraction(code string) bool {
	for _, i := range r.Interaction {
		if i.Code == code {
			return true
		}
	}
	return false
}

func (r *CapabilityResource) hasOperation(name string) bool {
	for _, op := range r.Operation {
		if op.Name == name {
			return true
		}
	}
	return false
}

// ResourceTypes returns registered resource types in sorted order.
func (b *CapabilityBuilder) ResourceTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	types := make([]string, 0, len(b.resources))
	for rt := range b.resources {
		types = append(types, rt)
	}
	sort.Strings(types)
	return types
}

// Build renders the CapabilityStatement as of now.
func (b *CapabilityBuilder) Build() *CapabilityStatement {
	types := b.ResourceTypes()

	b.mu.RLock()
	resources := make([]CapabilityResource, 0, len(types))
	for _, rt := range types {
		resources = append(resources, *b.resources[rt])
	}
	b.mu.RUnlock()

	return &CapabilityStatement{
		ResourceType:   "CapabilityStatement",
		Status:         "active",
		Date:           time.Now().UTC().Format("2006-01-02"),
		Kind:           "instance",
		FHIRVersion:    "4.0.1",
		Format:         []string{"application/fhir+json", "json"},
		Software:       CapabilitySoftware{Name: b.ServerName, Version: b.ServerVersion},
		Implementation: CapabilityImplementation{Description: b.ServerName, URL: b.BaseURL},
		Rest:           []CapabilityRest{{Mode: "server", Resource: resources}},
	}
}

// CapabilityHandler serves the CapabilityStatement.
type CapabilityHandler struct {
	builder *CapabilityBuilder
}

func NewCapabilityHandler(builder *CapabilityBuilder) *CapabilityHandler {
	return &CapabilityHandler{builder: builder}
}

func (h *CapabilityHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/metadata", h.GetMetadata)
}

// GetMetadata handles GET /fhir/metadata.
func (h *CapabilityHandler) GetMetadata(c echo.Context) error {
	return c.JSON(http.StatusOK, h.builder.Build())
}
