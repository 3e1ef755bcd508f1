package cache

// DummyCache accepts every account and has no stored configs.
type DummyCache struct {
}

// NewDummyCache create new config
func NewDummyCache() *DummyCache {
	return &DummyCache{}
}

// Close nop
func (c *DummyCache) Close() error {
	return nil
}

// GetConfig not supported, always returns an error
func (c *DummyCache) GetConfig(key string) (string, error) {
	return "", &NotFound{Kind: "config", Key: key}
}

// GetAccount echos back the account
func (c *DummyCache) GetAccount(key string) (*Account, error) {
	return &Account{
		ID: key,
	}, nil
}
