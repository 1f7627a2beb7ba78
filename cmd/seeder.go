package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with billing reference data",
	Long:  `Seed the database with the reference data the billing flow needs: service provider identity, departments, revenue sources and their priced items, integrating systems and exchange rates.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, _, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}

		if clearData {
			for _, table := range []string{"revenue_source_items", "revenue_sources", "billing_departments", "system_info", "exchange_rates", "service_providers"} {
				if err := db.Exec("DELETE FROM " + table).Error; err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing reference data")
		}

		spCode := cfg.Gateway.SpCode
		var exists int
		row := db.Raw("SELECT 1 FROM service_providers WHERE code = ?", spCode).Row()
		if err := row.Scan(&exists); err != nil {
			if err := db.Exec("INSERT INTO service_providers (name, code, grp_code, sys_code, created_at, updated_at) VALUES (?, ?, ?, ?, now(), now())",
				"Kinondoni Municipal Council", spCode, cfg.Gateway.GrpCode, cfg.Gateway.SysCode).Error; err != nil {
				log.Fatalf("failed to insert service provider: %v", err)
			}
			fmt.Println("Seeded service provider:", spCode)
		}

		var spID int64
		if err := db.Raw("SELECT id FROM service_providers WHERE code = ?", spCode).Row().Scan(&spID); err != nil {
			log.Fatalf("failed to lookup service provider id: %v", err)
		}

		departments := []struct {
			Name       string
			Code       string
			AccountNum string
		}{
			{"Land and Survey", "KDD", "0150211000000"},
			{"Business Licensing", "KDB", "0150212000000"},
			{"Waste Management", "KDW", "0150213000000"},
		}

		for _, d := range departments {
			row := db.Raw("SELECT 1 FROM billing_departments WHERE code = ?", d.Code).Row()
			if err := row.Scan(&exists); err == nil {
				continue
			}
			if err := db.Exec("INSERT INTO billing_departments (service_provider_id, name, code, account_num, created_at, updated_at) VALUES (?, ?, ?, ?, now(), now())",
				spID, d.Name, d.Code, d.AccountNum).Error; err != nil {
				log.Fatalf("failed to insert department %s: %v", d.Code, err)
			}
			fmt.Println("Seeded department:", d.Code)
		}

		sources := []struct {
			Name    string
			GfsCode string
			Items   []struct {
				Description string
				Amount      string
			}
		}{
			{"Land Rent", "140101", []struct {
				Description string
				Amount      string
			}{
				{"Plot survey fee", "50000.00"},
				{"Land rent annual charge", "120000.00"},
			}},
			{"Business Licenses", "140202", []struct {
				Description string
				Amount      string
			}{
				{"Trading license small business", "75000.00"},
				{"Trading license medium business", "250000.00"},
			}},
			{"Solid Waste Collection", "140315", []struct {
				Description string
				Amount      string
			}{
				{"Household monthly collection", "10000.00"},
			}},
		}

		for _, s := range sources {
			var sourceID int64
			if err := db.Raw("SELECT id FROM revenue_sources WHERE gfs_code = ?", s.GfsCode).Row().Scan(&sourceID); err != nil {
				if err := db.Exec("INSERT INTO revenue_sources (name, gfs_code, created_at, updated_at) VALUES (?, ?, now(), now())",
					s.Name, s.GfsCode).Error; err != nil {
					log.Fatalf("failed to insert revenue source %s: %v", s.GfsCode, err)
				}
				if err := db.Raw("SELECT id FROM revenue_sources WHERE gfs_code = ?", s.GfsCode).Row().Scan(&sourceID); err != nil {
					log.Fatalf("revenue source not found after insert %s: %v", s.GfsCode, err)
				}
				fmt.Println("Seeded revenue source:", s.Name)
			}

			for _, item := range s.Items {
				row := db.Raw("SELECT 1 FROM revenue_source_items WHERE revenue_source_id = ? AND description = ?", sourceID, item.Description).Row()
				if err := row.Scan(&exists); err == nil {
					continue
				}
				if err := db.Exec("INSERT INTO revenue_source_items (revenue_source_id, description, amount, currency, created_at, updated_at) VALUES (?, ?, ?, 'TZS', now(), now())",
					sourceID, item.Description, item.Amount).Error; err != nil {
					log.Fatalf("failed to insert revenue source item %s: %v", item.Description, err)
				}
			}
		}

		row = db.Raw("SELECT 1 FROM system_info WHERE code = ?", "LGRCIS").Row()
		if err := row.Scan(&exists); err != nil {
			if err := db.Exec("INSERT INTO system_info (code, name, cntrnum_response_callback, pay_notification_callback, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, true, now(), now())",
				"LGRCIS", "Local Government Revenue Collection Information System",
				"http://localhost:9090/api/callbacks/control-number",
				"http://localhost:9090/api/callbacks/payment").Error; err != nil {
				log.Fatalf("failed to insert system info: %v", err)
			}
			fmt.Println("Seeded integrating system: LGRCIS")
		}

		today := time.Now().Format("2006-01-02")
		rates := []struct {
			Currency string
			Buying   string
			Selling  string
		}{
			{"USD", "2480.0000", "2500.0000"},
			{"EUR", "2700.0000", "2725.0000"},
		}
		for _, r := range rates {
			row := db.Raw("SELECT 1 FROM exchange_rates WHERE currency = ? AND trx_date = ?", r.Currency, today).Row()
			if err := row.Scan(&exists); err == nil {
				continue
			}
			if err := db.Exec("INSERT INTO exchange_rates (currency, trx_date, buying, selling, created_at, updated_at) VALUES (?, ?, ?, ?, now(), now())",
				r.Currency, today, r.Buying, r.Selling).Error; err != nil {
				log.Fatalf("failed to insert exchange rate %s: %v", r.Currency, err)
			}
			fmt.Println("Seeded exchange rate:", r.Currency)
		}

		fmt.Println("Billing reference data seeded successfully")
	},
}
