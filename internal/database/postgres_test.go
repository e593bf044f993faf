package database

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestGetConfigDefaults(t *testing.T) {
	viper.Reset()
	config := GetConfig()

	assert.Equal(t, "tradepost", config.Name)
	assert.Equal(t, 20, config.MaxOpenConns)
	assert.Equal(t, 5*time.Second, config.LockTimeout)
	assert.Equal(t, 15*time.Second, config.StatementTimeout)
	assert.Equal(t, time.Minute, config.ConnMaxIdleTime)
}

func TestConnStringCarriesSessionTimeouts(t *testing.T) {
	viper.Reset()
	viper.Set("database.lock_timeout", 2*time.Second)
	viper.Set("database.statement_timeout", 10*time.Second)
	defer viper.Reset()

	dsn := GetConfig().ConnString()

	assert.Contains(t, dsn, "dbname=tradepost")
	assert.Contains(t, dsn, "lock_timeout=2000")
	assert.Contains(t, dsn, "statement_timeout=10000")
}
