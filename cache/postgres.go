package cache

import (
	"bytes"
	"database/sql"
	"encoding/gob"
	"fmt"

	"github.com/coocood/freecache"
	"github.com/golang/glog"
	_ "github.com/lib/pq"
)

const (
	accountQuery = "SELECT uuid FROM accounts_account where uuid = $1 LIMIT 1"
	configQuery  = "SELECT config FROM s2sconfig_config where uuid = $1 LIMIT 1"
)

type PostgresDataCacheConfig struct {
	Host     string
	Port     int
	Dbname   string
	User     string
	Password string
	TTL      int
	Size     int
}

func (c *PostgresDataCacheConfig) uri() string {
	uri := ""
	if c.Host != "" {
		uri += fmt.Sprintf("host=%s ", c.Host)
	}

	if c.Port > 0 {
		uri += fmt.Sprintf("port=%d ", c.Port)
	}

	if c.User != "" {
		uri += fmt.Sprintf("user=%s ", c.User)
	}

	if c.Password != "" {
		uri += fmt.Sprintf("password=%s ", c.Password)
	}

	if c.Dbname != "" {
		uri += fmt.Sprintf("dbname=%s ", c.Dbname)
	}

	return uri + "sslmode=disable"
}

// PostgresDataCache reads accounts and configs from postgres, keeping recent hits in an in-memory LRU.
type PostgresDataCache struct {
	db         *sql.DB
	lru        *freecache.Cache
	ttlSeconds int
}

func NewPostgresDataCache(conf *PostgresDataCacheConfig) (*PostgresDataCache, error) {
	db, err := sql.Open("postgres", conf.uri())
	if err != nil {
		return nil, err
	}

	if err = db.Ping(); err != nil {
		// Keep serving; lookups will fail until the db comes back.
		glog.Errorf("failed to connect to db store: %v", err)
	}

	return newPostgresDataCache(db, conf.Size, conf.TTL), nil
}

func newPostgresDataCache(db *sql.DB, size int, ttlSeconds int) *PostgresDataCache {
	return &PostgresDataCache{
		db:         db,
		lru:        freecache.NewCache(size),
		ttlSeconds: ttlSeconds,
	}
}

func (c *PostgresDataCache) Close() error {
	return c.db.Close()
}

func (c *PostgresDataCache) GetConfig(key string) (string, error) {
	lruKey := []byte("config:" + key)
	if b, err := c.lru.Get(lruKey); err == nil {
		return string(b), nil
	}

	var config string
	if err := c.db.QueryRow(configQuery, key).Scan(&config); err != nil {
		return "", notFoundOr(err, "config", key)
	}

	c.lru.Set(lruKey, []byte(config), c.ttlSeconds)
	return config, nil
}

func (c *PostgresDataCache) GetAccount(key string) (*Account, error) {
	account := Account{}
	lruKey := []byte("account:" + key)

	if b, err := c.lru.Get(lruKey); err == nil {
		if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&account); err == nil {
			return &account, nil
		}
		c.lru.Del(lruKey)
	}

	if err := c.db.QueryRow(accountQuery, key).Scan(&account.ID); err != nil {
		return nil, notFoundOr(err, "account", key)
	}

	buf := bytes.Buffer{}
	if err := gob.NewEncoder(&buf).Encode(&account); err != nil {
		glog.Warningf("failed to encode account %s for the lru: %v", key, err)
		return &account, nil
	}

	c.lru.Set(lruKey, buf.Bytes(), c.ttlSeconds)
	return &account, nil
}

func notFoundOr(err error, kind string, key string) error {
	if err == sql.ErrNoRows {
		return &NotFound{Kind: kind, Key: key}
	}
	return err
}
