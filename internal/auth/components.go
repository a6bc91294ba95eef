package auth

// Components holds the wired auth subsystem.
type Components struct {
	Settings  *Settings
	Hashes    *HashPool
	Registry  *PermissionRegistry
	Issuer    *TokenIssuer
	Validator *TokenValidator
	Engine    *AuthorizationEngine
	Service   *AuthenticationService
	Catalog   *Catalog
}

// Assemble wires every component from one Settings value and one Store.
// Close must be called to stop the hashing workers.
func Assemble(store Store, settings *Settings, tokenOpts []TokenOption, opts ...ServiceOption) (*Components, error) {
	hasher, err := NewPasswordHasher(settings.HashAlgorithm(), settings.HashCost())
	if err != nil {
		return nil, err
	}
	hashes := NewHashPool(hasher, settings.HashWorkers())
	registry := NewPermissionRegistry(store, settings.CacheSize(), settings.CacheTTL())
	issuer := NewTokenIssuer(settings, tokenOpts...)
	svc, err := NewAuthenticationService(store, hashes, registry, issuer, opts...)
	if err != nil {
		hashes.Close()
		return nil, err
	}
	return &Components{
		Settings:  settings,
		Hashes:    hashes,
		Registry:  registry,
		Issuer:    issuer,
		Validator: NewTokenValidator(settings, tokenOpts...),
		Engine:    NewAuthorizationEngine(store, registry, settings),
		Service:   svc,
		Catalog:   NewCatalog(store, registry),
	}, nil
}

// Close releases the hashing workers.
func (c *Components) Close() {
	c.Hashes.Close()
}
