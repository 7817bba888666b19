package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mterres/opmigrate/internal/mail"
	"github.com/mterres/opmigrate/internal/report"
)

var (
	reportOut       string
	reportSpentFrom string
	reportSpentTo   string
	reportSend      bool
	reportSubject   string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Build a time-entry spreadsheet from the source instance",
	Long: `Report fetches time entries from the source instance, resolves user,
activity, project and work package titles plus per-work-package costs, and
writes them to an xlsx workbook. With --send the workbook is mailed to the
recipients configured under mail.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.RequireSource(); err != nil {
			return err
		}

		conn := connect(cfg.Source, cfg.HTTP)
		rows, err := report.Build(cmd.Context(), conn, report.Options{
			SpentFrom: reportSpentFrom,
			SpentTo:   reportSpentTo,
		})
		if err != nil {
			return fmt.Errorf("build report: %w", err)
		}

		out := reportOut
		if out == "" {
			out = fmt.Sprintf("time_report_%s.xlsx", time.Now().Format("20060102"))
		}
		if err := report.WriteXLSX(rows, out); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Printf("Report written: %s (%d entries)\n", out, len(rows))

		if !reportSend {
			return nil
		}

		mailer, err := mail.New(cmd.Context(), mail.Config{
			TenantID:     cfg.Mail.TenantID,
			ClientID:     cfg.Mail.ClientID,
			ClientSecret: cfg.Mail.ClientSecret,
			Sender:       cfg.Mail.Sender,
			Recipients:   cfg.Mail.Recipients,
		})
		if err != nil {
			return err
		}

		subject := reportSubject
		if subject == "" {
			subject = fmt.Sprintf("Time report %s", time.Now().Format("2006-01-02"))
		}
		body := fmt.Sprintf("Attached: time report with %d entries.", len(rows))
		if err := mailer.SendReport(cmd.Context(), subject, body, out); err != nil {
			return err
		}
		fmt.Printf("Report sent to %d recipients\n", len(cfg.Mail.Recipients))
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "Workbook path (default: time_report_<date>.xlsx)")
	reportCmd.Flags().StringVar(&reportSpentFrom, "spent-from", "", "Only include time entries spent on or after this date (YYYY-MM-DD)")
	reportCmd.Flags().StringVar(&reportSpentTo, "spent-to", "", "Only include time entries spent on or before this date (YYYY-MM-DD)")
	reportCmd.Flags().BoolVar(&reportSend, "send", false, "Mail the workbook to the configured recipients")
	reportCmd.Flags().StringVar(&reportSubject, "subject", "", "Mail subject (default: Time report <date>)")
	rootCmd.AddCommand(reportCmd)
}
