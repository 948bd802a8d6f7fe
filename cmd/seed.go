package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/jcastillo/ticketero/internal/config"
	"github.com/jcastillo/ticketero/internal/db"
	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jcastillo/ticketero/internal/repository"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo advisors and queue configs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		ctx := context.Background()
		advisorsRepo := repository.NewAdvisorsRepository(sqlDB)
		configsRepo := repository.NewQueueConfigsRepository(sqlDB)

		log.Println(">> Seeding advisors...")

		// idempotent: upserts are keyed by module number / queue type
		advisors := []model.Advisor{
			{Name: "Carlos Ramirez", ModuleNumber: 1, QueueTypes: "CAJA", Status: model.AdvisorAvailable, AvgServiceTimeMinutes: 5},
			{Name: "Maria Gonzalez", ModuleNumber: 2, QueueTypes: "CAJA", Status: model.AdvisorAvailable, AvgServiceTimeMinutes: 4},
			{Name: "Jorge Fuentes", ModuleNumber: 3, QueueTypes: "CAJA,PERSONAL", Status: model.AdvisorAvailable, AvgServiceTimeMinutes: 8},
			{Name: "Ana Torres", ModuleNumber: 4, QueueTypes: "PERSONAL", Status: model.AdvisorAvailable, AvgServiceTimeMinutes: 10},
			{Name: "Luis Herrera", ModuleNumber: 5, QueueTypes: "PERSONAL,EMPRESAS", Status: model.AdvisorAvailable, AvgServiceTimeMinutes: 12},
			{Name: "Patricia Soto", ModuleNumber: 6, QueueTypes: "EMPRESAS", Status: model.AdvisorAvailable, AvgServiceTimeMinutes: 15},
			{Name: "Roberto Vargas", ModuleNumber: 7, QueueTypes: "GERENCIA", Status: model.AdvisorAvailable, AvgServiceTimeMinutes: 20},
		}
		for _, a := range advisors {
			if err := advisorsRepo.Upsert(ctx, nil, a); err != nil {
				return fmt.Errorf("seed advisor %q: %w", a.Name, err)
			}
		}

		log.Println(">> Seeding queue configs...")

		configs := []model.QueueConfig{
			{QueueType: model.QueueCaja, AvgServiceTimeMinutes: 5, NotificationThreshold: 3, Priority: 1, Active: true},
			{QueueType: model.QueuePersonal, AvgServiceTimeMinutes: 10, NotificationThreshold: 3, Priority: 2, Active: true},
			{QueueType: model.QueueEmpresas, AvgServiceTimeMinutes: 15, NotificationThreshold: 2, Priority: 3, Active: true},
			{QueueType: model.QueueGerencia, AvgServiceTimeMinutes: 20, NotificationThreshold: 1, Priority: 4, Active: true},
		}
		for _, qc := range configs {
			if err := configsRepo.Upsert(ctx, nil, qc); err != nil {
				return fmt.Errorf("seed queue config %s: %w", qc.QueueType, err)
			}
		}

		log.Println(">> Seed completed")
		return nil
	},
}
