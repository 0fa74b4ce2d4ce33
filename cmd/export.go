package main

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sitesmith/hunter/internal/business"
)

var (
	exportOut      string
	exportMinScore int
	exportCellID   int64
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export qualified businesses to an XLSX workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		s, err := initStores(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		opts := business.ListOpts{MinScore: exportMinScore}
		if exportCellID > 0 {
			opts.CellID = &exportCellID
		}
		leads, err := s.leads.List(ctx, opts)
		if err != nil {
			return err
		}
		if len(leads) == 0 {
			cmd.Println("Nothing to export.")
			return nil
		}

		if err := writeLeadsXLSX(exportOut, leads); err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.String("file", exportOut),
			zap.Int("businesses", len(leads)),
		)
		return nil
	},
}

func writeLeadsXLSX(path string, leads []business.Business) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range []string{
		"Name", "Score", "Reason", "Email", "Phone",
		"Street", "City", "State", "Zip", "Category",
		"Rating", "Reviews", "Photo Refs", "Source ID",
	} {
		header.AddCell().SetString(col)
	}

	for _, b := range leads {
		row := sheet.AddRow()
		row.AddCell().SetString(b.Name)
		row.AddCell().SetInt(b.QualificationScore)
		row.AddCell().SetString(b.QualificationReason)
		row.AddCell().SetString(b.Email)
		row.AddCell().SetString(b.Phone)
		row.AddCell().SetString(b.Street)
		row.AddCell().SetString(b.City)
		row.AddCell().SetString(b.State)
		row.AddCell().SetString(b.ZipCode)
		row.AddCell().SetString(b.Category)
		row.AddCell().SetFloat(b.Rating)
		row.AddCell().SetInt(b.ReviewCount)
		row.AddCell().SetString(strings.Join(b.PhotoRefs, ", "))
		row.AddCell().SetString(b.SourceID)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "leads.xlsx", "output file path")
	exportCmd.Flags().IntVar(&exportMinScore, "min-score", 0, "minimum qualification score")
	exportCmd.Flags().Int64Var(&exportCellID, "cell", 0, "restrict to one coverage cell ID")
	rootCmd.AddCommand(exportCmd)
}
