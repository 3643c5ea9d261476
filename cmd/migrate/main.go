/*
*
  - 数据库迁移工具
  - @description: 台账数据库模型迁移和测试数据初始化工具
  - @usage: go run main.go -config=configs/config.yaml -seed=true -drop=true
    -drop
    是否先删除表（危险操作）
    -seed
    是否填充测试数据
    -verbose
    是否显示详细日志
*/
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"neoledger/internal/config"
	ledgermodel "neoledger/internal/model/ledger"
	"neoledger/internal/pkg/database"
	"neoledger/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MigrateOptions 迁移选项配置
type MigrateOptions struct {
	ConfigPath string // 配置文件路径
	SeedData   bool   // 是否填充测试数据
	DropFirst  bool   // 是否先删除表（危险操作）
	Verbose    bool   // 是否显示详细日志
}

func main() {
	opts := parseFlags()

	// 加载配置
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	// 初始化日志管理器
	logManager, err := logger.InitLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	if opts.Verbose {
		logManager.GetLogger().SetLevel(logrus.DebugLevel)
	}

	logManager.GetLogger().WithFields(logrus.Fields{
		"operation":  "database_migration",
		"seed_data":  opts.SeedData,
		"drop_first": opts.DropFirst,
	}).Info("开始数据库迁移")

	// 初始化数据库连接
	db, err := database.NewMySQLConnection(&cfg.Database.MySQL)
	if err != nil {
		logManager.GetLogger().WithFields(logrus.Fields{
			"operation": "database_connection",
			"error":     err.Error(),
		}).Fatal("数据库连接失败")
	}

	// 执行迁移
	if err := performMigration(db, opts, logManager); err != nil {
		logManager.GetLogger().WithFields(logrus.Fields{
			"operation": "database_migration",
			"error":     err.Error(),
		}).Fatal("数据库迁移失败")
	}

	logManager.GetLogger().WithFields(logrus.Fields{
		"operation": "database_migration",
	}).Info("数据库迁移完成")
}

// parseFlags 解析命令行参数
func parseFlags() *MigrateOptions {
	opts := &MigrateOptions{}

	flag.StringVar(&opts.ConfigPath, "config", "", "配置文件路径(缺省走搜索路径)")
	flag.BoolVar(&opts.SeedData, "seed", false, "是否填充测试数据")
	flag.BoolVar(&opts.DropFirst, "drop", false, "是否先删除表（危险操作）")
	flag.BoolVar(&opts.Verbose, "verbose", false, "是否显示详细日志")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "台账数据库迁移工具\n\n")
		fmt.Fprintf(os.Stderr, "用法: %s [选项]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "选项:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n示例:\n")
		fmt.Fprintf(os.Stderr, "  %s -seed=true              # 迁移并填充测试数据\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -drop=true -seed=false  # 重置表结构(危险)\n", os.Args[0])
	}

	flag.Parse()
	return opts
}

// ledgerModels 全部台账模型，迁移按此顺序执行
func ledgerModels() []interface{} {
	return []interface{}{
		&ledgermodel.Asset{},
		&ledgermodel.AssetSourceLink{},
		&ledgermodel.SourceRecord{},
		&ledgermodel.Relation{},
		&ledgermodel.RelationRecord{},
		&ledgermodel.AssetRunSnapshot{},
		&ledgermodel.AssetHistoryEvent{},
		&ledgermodel.AssetSignalLink{},
		&ledgermodel.SignalRecord{},
		&ledgermodel.AssetOperationalState{},
		&ledgermodel.DuplicateCandidate{},
		&ledgermodel.MergeAudit{},
	}
}

// performMigration 执行数据库迁移
func performMigration(db *gorm.DB, opts *MigrateOptions, logManager *logger.LoggerManager) error {
	if opts.DropFirst {
		if err := dropTables(db, logManager); err != nil {
			return fmt.Errorf("删除表失败: %w", err)
		}
	}

	if err := db.AutoMigrate(ledgerModels()...); err != nil {
		return fmt.Errorf("模型迁移失败: %w", err)
	}
	logManager.GetLogger().Info("模型迁移完成")

	if opts.SeedData {
		if err := seedTestData(db, logManager); err != nil {
			return fmt.Errorf("数据填充失败: %w", err)
		}
	}
	return nil
}

// dropTables 删除所有表
// 危险操作，仅用于开发环境重置
func dropTables(db *gorm.DB, logManager *logger.LoggerManager) error {
	logManager.GetLogger().WithFields(logrus.Fields{
		"operation": "drop_tables",
	}).Warn("开始删除数据库表")

	for _, model := range ledgerModels() {
		if err := db.Migrator().DropTable(model); err != nil {
			logManager.GetLogger().WithFields(logrus.Fields{
				"operation": "drop_table",
				"model":     fmt.Sprintf("%T", model),
				"error":     err.Error(),
			}).Error("删除表失败")
		}
	}
	return nil
}

// seedTestData 填充演示数据：一台宿主机、一台虚拟机及其身份链路
func seedTestData(db *gorm.DB, logManager *logger.LoggerManager) error {
	now := time.Now()

	host := &ledgermodel.Asset{
		UUID:              uuid.NewString(),
		AssetType:         ledgermodel.AssetTypeHost,
		Status:            ledgermodel.AssetStatusInService,
		DisplayName:       "demo-esxi-01.lab.local",
		CollectedHostname: "demo-esxi-01.lab.local",
		LastSeenAt:        &now,
	}
	vm := &ledgermodel.Asset{
		UUID:               uuid.NewString(),
		AssetType:          ledgermodel.AssetTypeVM,
		Status:             ledgermodel.AssetStatusInService,
		DisplayName:        "demo-vm-01",
		CollectedHostname:  "demo-vm-01.lab.local",
		CollectedVMCaption: "demo-vm-01",
		CollectedIPText:    "10.0.0.15",
		LastSeenAt:         &now,
	}
	if err := db.Create([]*ledgermodel.Asset{host, vm}).Error; err != nil {
		return err
	}

	links := []*ledgermodel.AssetSourceLink{
		{
			SourceID:       "demo-vcenter",
			ExternalKind:   ledgermodel.AssetTypeHost,
			ExternalID:     "host-1001",
			AssetUUID:      host.UUID,
			PresenceStatus: ledgermodel.PresencePresent,
			FirstSeenAt:    now,
			LastSeenAt:     now,
			LastSeenRunID:  "seed",
		},
		{
			SourceID:       "demo-vcenter",
			ExternalKind:   ledgermodel.AssetTypeVM,
			ExternalID:     "vm-2001",
			AssetUUID:      vm.UUID,
			PresenceStatus: ledgermodel.PresencePresent,
			FirstSeenAt:    now,
			LastSeenAt:     now,
			LastSeenRunID:  "seed",
		},
	}
	if err := db.Create(links).Error; err != nil {
		return err
	}

	relation := &ledgermodel.Relation{
		RelationType:  ledgermodel.RelationRunsOn,
		FromAssetUUID: vm.UUID,
		ToAssetUUID:   host.UUID,
		SourceID:      "demo-vcenter",
		Status:        ledgermodel.RelationActive,
		FirstSeenAt:   now,
		LastSeenAt:    now,
	}
	if err := db.Create(relation).Error; err != nil {
		return err
	}

	logManager.GetLogger().WithFields(logrus.Fields{
		"operation": "seed_test_data",
		"host_uuid": host.UUID,
		"vm_uuid":   vm.UUID,
	}).Info("演示数据填充完成")
	return nil
}
