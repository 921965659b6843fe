package gormdb

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	mysqlDriver "gorm.io/driver/mysql"
	postgresDriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func dialector(ds *DataSourceConfig) (gorm.Dialector, error) {
	dsn, err := buildDSN(ds)
	if err != nil {
		return nil, err
	}
	if ds.Driver == DriverPostgres {
		return postgresDriver.New(postgresDriver.Config{DSN: dsn}), nil
	}
	return mysqlDriver.New(mysqlDriver.Config{DSN: dsn}), nil
}

// buildDSN builds DSN from datasource pieces if DSN not provided.
func buildDSN(ds *DataSourceConfig) (string, error) {
	if strings.TrimSpace(ds.DSN) != "" {
		return ds.DSN, nil
	}
	if ds.Host == "" || ds.User == "" || ds.Database == "" {
		return "", errors.New("host, user, database required when dsn not provided")
	}
	if ds.Driver == DriverPostgres {
		port := ds.Port
		if port == 0 {
			port = 5432
		}
		params := map[string]string{"sslmode": "disable", "TimeZone": "UTC"}
		for k, v := range ds.Params {
			params[k] = v
		}
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := []string{
			"host=" + ds.Host,
			fmt.Sprintf("port=%d", port),
			"user=" + ds.User,
			"password=" + ds.Password,
			"dbname=" + ds.Database,
		}
		for _, k := range keys {
			parts = append(parts, k+"="+params[k])
		}
		return strings.Join(parts, " "), nil
	}
	port := ds.Port
	if port == 0 {
		port = 3306
	}
	params := url.Values{}
	params.Set("parseTime", "true")
	params.Set("charset", "utf8mb4")
	params.Set("loc", "UTC")
	for k, v := range ds.Params {
		params.Set(k, v)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", ds.User, ds.Password, ds.Host, port, ds.Database, params.Encode()), nil
}
