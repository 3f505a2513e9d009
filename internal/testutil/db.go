package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/nsxzhou1114/bloodlink-api/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var dbSeq atomic.Int64

// NewTestDB 创建独立的内存SQLite数据库并迁移全部表
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:bloodlink_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("获取测试数据库连接失败: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := model.InitTables(db); err != nil {
		t.Fatalf("迁移测试数据库失败: %v", err)
	}
	return db
}

// CreateDonor 创建献血者用户
func CreateDonor(t *testing.T, db *gorm.DB, username, bloodGroup, locality, district, region string) *model.User {
	t.Helper()
	u := &model.User{
		Username:   username,
		Nickname:   username,
		IsDonor:    true,
		BloodGroup: bloodGroup,
		Locality:   locality,
		District:   district,
		Region:     region,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("创建献血者失败: %v", err)
	}
	return u
}

// CreateUser 创建普通用户
func CreateUser(t *testing.T, db *gorm.DB, username string) *model.User {
	t.Helper()
	u := &model.User{Username: username, Nickname: username}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("创建用户失败: %v", err)
	}
	return u
}
