package api

// Category classifies an entry. The taxonomy is closed: unknown values
// are rejected at validation.
type Category string

// The full taxonomy. The swarm and universal halves of the source data
// overlapped on several names; the list below is the deduplicated union.
const (
	CategoryAgents             Category = "agents"
	CategoryServices           Category = "services"
	CategoryPlugins            Category = "plugins"
	CategoryEngines            Category = "engines"
	CategoryPrompts            Category = "prompts"
	CategoryModels             Category = "models"
	CategoryEmbeddings         Category = "embeddings"
	CategorySkills             Category = "skills"
	CategoryMemory             Category = "memory"
	CategoryAPIs               Category = "apis"
	CategoryWebhooks           Category = "webhooks"
	CategoryIntegrations       Category = "integrations"
	CategoryResources          Category = "resources"
	CategoryInfrastructure     Category = "infrastructure"
	CategoryComponents         Category = "components"
	CategoryPipelines          Category = "pipelines"
	CategoryDatasets           Category = "datasets"
	CategoryKnowledge          Category = "knowledge"
	CategorySearch             Category = "search"
	CategoryEventSchemas       Category = "event_schemas"
	CategoryTaskSchemas        Category = "task_schemas"
	CategoryTemplates          Category = "templates"
	CategoryWorkflows          Category = "workflows"
	CategoryFeatures           Category = "features"
	CategoryIncidents          Category = "incidents"
	CategoryProjects           Category = "projects"
	CategoryOrganizations      Category = "organizations"
	CategoryUsers              Category = "users"
	CategoryTenants            Category = "tenants"
	CategoryWidgets            Category = "widgets"
	CategoryNotifications      Category = "notifications"
	CategoryCommunications     Category = "communications"
	CategoryModality           Category = "modality"
	CategoryMultimodal         Category = "multimodal"
	CategoryHotswapComponents  Category = "hotswap_components"
	CategoryStreamingEndpoints Category = "streaming_endpoints"
	CategoryPropagationChains  Category = "propagation_chains"
	CategoryFeatureLayer       Category = "feature_layer"
	CategorySubregistry        Category = "subregistry"
	CategoryAssets             Category = "assets"
	CategoryViolations         Category = "violations"
	CategoryCapabilities       Category = "capabilities"
	CategoryDocumentations     Category = "documentations"

	// Terminal and shell asset classifications.
	CategoryZshAliases   Category = "zsh_aliases"
	CategoryZshFunctions Category = "zsh_functions"
	CategoryZshPlugins   Category = "zsh_plugins"
	CategoryZshThemes    Category = "zsh_themes"
	CategoryPalettes     Category = "palettes"
	CategoryGlyphs       Category = "glyphs"
	CategoryAnimations   Category = "animations"
	CategoryDepthChars   Category = "depth_chars"
	CategoryParticleFX   Category = "particle_fx"
	CategoryUIPrimitives Category = "ui_primitives"
	CategoryMenuLayouts  Category = "menu_layouts"
)

var validCategories = map[Category]bool{
	CategoryAgents:             true,
	CategoryServices:           true,
	CategoryPlugins:            true,
	CategoryEngines:            true,
	CategoryPrompts:            true,
	CategoryModels:             true,
	CategoryEmbeddings:         true,
	CategorySkills:             true,
	CategoryMemory:             true,
	CategoryAPIs:               true,
	CategoryWebhooks:           true,
	CategoryIntegrations:       true,
	CategoryResources:          true,
	CategoryInfrastructure:     true,
	CategoryComponents:         true,
	CategoryPipelines:          true,
	CategoryDatasets:           true,
	CategoryKnowledge:          true,
	CategorySearch:             true,
	CategoryEventSchemas:       true,
	CategoryTaskSchemas:        true,
	CategoryTemplates:          true,
	CategoryWorkflows:          true,
	CategoryFeatures:           true,
	CategoryIncidents:          true,
	CategoryProjects:           true,
	CategoryOrganizations:      true,
	CategoryUsers:              true,
	CategoryTenants:            true,
	CategoryWidgets:            true,
	CategoryNotifications:      true,
	CategoryCommunications:     true,
	CategoryModality:           true,
	CategoryMultimodal:         true,
	CategoryHotswapComponents:  true,
	CategoryStreamingEndpoints: true,
	CategoryPropagationChains:  true,
	CategoryFeatureLayer:       true,
	CategorySubregistry:        true,
	CategoryAssets:             true,
	CategoryViolations:         true,
	CategoryCapabilities:       true,
	CategoryDocumentations:     true,
	CategoryZshAliases:         true,
	CategoryZshFunctions:       true,
	CategoryZshPlugins:         true,
	CategoryZshThemes:          true,
	CategoryPalettes:           true,
	CategoryGlyphs:             true,
	CategoryAnimations:         true,
	CategoryDepthChars:         true,
	CategoryParticleFX:         true,
	CategoryUIPrimitives:       true,
	CategoryMenuLayouts:        true,
}

// IsValid reports whether c is part of the taxonomy.
func (c Category) IsValid() bool {
	return validCategories[c]
}

// AllCategories returns the taxonomy as a slice, in no particular order.
func AllCategories() []Category {
	out := make([]Category, 0, len(validCategories))
	for c := range validCategories {
		out = append(out, c)
	}
	return out
}
