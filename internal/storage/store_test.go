package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigDSNEmbedded(t *testing.T) {
	c := Config{Path: "/var/lib/osmupload", Database: "osm"}
	assert.Equal(t, "dolt", c.driverName())
	assert.Contains(t, c.dsn(), "file:///var/lib/osmupload")
	assert.Contains(t, c.dsn(), "database=osm")
}

func TestConfigDSNServerModeDefaults(t *testing.T) {
	c := Config{ServerMode: true, Database: "osm"}
	assert.Equal(t, "mysql", c.driverName())
	assert.Equal(t, "root:@tcp(127.0.0.1:3307)/osm?parseTime=true&multiStatements=true", c.dsn())
}

func TestConfigDSNServerModeOverrides(t *testing.T) {
	c := Config{
		ServerMode:     true,
		ServerHost:     "dbhost",
		ServerPort:     3306,
		ServerUser:     "osm",
		ServerPassword: "secret",
		Database:       "osm_prod",
	}
	assert.Equal(t, "osm:secret@tcp(dbhost:3306)/osm_prod?parseTime=true&multiStatements=true", c.dsn())
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "CREATE TABLE foo (", firstLine("CREATE TABLE foo (\n  id INT\n)"))
	assert.Equal(t, "single line", firstLine("single line"))
}
