package config

// DomainConfig holds the entity rules enforced by the stores
type DomainConfig struct {
	// Entity constraints
	MaxStatementsPerEntity int
	MaxLabelLength         int
	MaxDescriptionLength   int
	MaxAliasesPerLanguage  int
	MaxValueLength         int

	// Request constraints
	MaxOtherItems int

	// Summary recorded on every revision written by a reconciliation edit
	EditSummary string

	// Validation settings
	AllowEmptyEntities bool
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		MaxStatementsPerEntity: 5000,
		MaxLabelLength:         250,
		MaxDescriptionLength:   250,
		MaxAliasesPerLanguage:  100,
		MaxValueLength:         1500,

		MaxOtherItems: 50,

		EditSummary: "Reconciliation Edit",

		AllowEmptyEntities: false,
	}
}

// ProductionDomainConfig returns production-specific configuration
func ProductionDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()
	config.MaxStatementsPerEntity = 2000
	config.MaxOtherItems = 25
	return config
}

// DevelopmentDomainConfig returns development-specific configuration
func DevelopmentDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()
	config.AllowEmptyEntities = true
	config.MaxOtherItems = 500
	return config
}

// LoadDomainConfig loads domain configuration based on environment
func LoadDomainConfig(environment string) *DomainConfig {
	switch environment {
	case "production":
		return ProductionDomainConfig()
	case "development":
		return DevelopmentDomainConfig()
	default:
		return DefaultDomainConfig()
	}
}
