// Package migrations 内嵌各数据库的建表脚本。
package migrations

import (
	"embed"
	"fmt"
)

//go:embed postgres/*.sql mysql/*.sql
var files embed.FS

// Read 读取指定数据库类型与方向的迁移脚本
func Read(dbType, action string) ([]byte, error) {
	if action != "up" && action != "down" {
		return nil, fmt.Errorf("unsupported action: %q", action)
	}
	return files.ReadFile(fmt.Sprintf("%s/001_initial_schema.%s.sql", dbType, action))
}
