package cache

import (
	"io/ioutil"

	"github.com/golang/glog"
	yaml "gopkg.in/yaml.v2"
)

// FileCache serves accounts and ad unit configs loaded once from a YAML file.
type FileCache struct {
	Configs  map[string]string
	Accounts map[string]bool
}

type fileCacheConfig struct {
	ID     string `yaml:"id"`
	Config string `yaml:"config"`
}

type fileCacheFile struct {
	Configs  []fileCacheConfig `yaml:"configs"`
	Accounts []string          `yaml:"accounts"`
}

func NewFileCache(filename string) (*FileCache, error) {
	if glog.V(2) {
		glog.Infof("Reading datacache from %s", filename)
	}

	b, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var u fileCacheFile
	if err := yaml.Unmarshal(b, &u); err != nil {
		return nil, err
	}

	fc := &FileCache{
		Configs:  make(map[string]string, len(u.Configs)),
		Accounts: make(map[string]bool, len(u.Accounts)),
	}
	for _, config := range u.Configs {
		fc.Configs[config.ID] = config.Config
	}
	glog.Infof("Loaded %d configs", len(u.Configs))

	for _, account := range u.Accounts {
		fc.Accounts[account] = true
	}
	glog.Infof("Loaded %d accounts", len(u.Accounts))

	return fc, nil
}

func (c *FileCache) Close() error {
	return nil
}

func (c *FileCache) GetConfig(key string) (string, error) {
	cfg, ok := c.Configs[key]
	if !ok {
		return "", &NotFound{Kind: "config", Key: key}
	}
	return cfg, nil
}

func (c *FileCache) GetAccount(key string) (*Account, error) {
	if !c.Accounts[key] {
		return nil, &NotFound{Kind: "account", Key: key}
	}
	return &Account{
		ID: key,
	}, nil
}
