package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/KantanPro/ktp-ledger/internal/ledger"
)

const (
	sheetInvoice = "請求項目"
	sheetCost    = "コスト項目"
	sheetTotals  = "集計"
)

// WriteXLSX writes a workbook with one sheet per table and a totals sheet.
func WriteXLSX(w io.Writer, doc Document) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	yenStyle, err := f.NewStyle(&excelize.Style{NumFmt: 3})
	if err != nil {
		return err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return err
	}

	if err := f.SetSheetName("Sheet1", sheetInvoice); err != nil {
		return err
	}
	if err := writeItemSheet(f, sheetInvoice, doc.Invoice, false, headerStyle, yenStyle); err != nil {
		return err
	}
	if _, err := f.NewSheet(sheetCost); err != nil {
		return err
	}
	if err := writeItemSheet(f, sheetCost, doc.Cost, true, headerStyle, yenStyle); err != nil {
		return err
	}
	if _, err := f.NewSheet(sheetTotals); err != nil {
		return err
	}
	if err := writeTotalsSheet(f, doc, yenStyle); err != nil {
		return err
	}
	f.SetActiveSheet(0)
	return f.Write(w)
}

func writeItemSheet(f *excelize.File, sheet string, rows []ledger.LineItem, cost bool, headerStyle, yenStyle int) error {
	header := []interface{}{"No", "品名", "単価", "数量", "単位", "税率(%)", "金額"}
	if cost {
		header = append(header, "仕入先ID", "仕入番号")
	}
	header = append(header, "備考")
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "B", "B", 32); err != nil {
		return err
	}

	for i, item := range rows {
		var rate interface{}
		if item.TaxRate != nil {
			rate = item.TaxRate.InexactFloat64()
		}
		values := []interface{}{
			i + 1,
			item.ProductName,
			item.UnitPrice.InexactFloat64(),
			item.Quantity.InexactFloat64(),
			item.Unit,
			rate,
			item.Amount.IntPart(),
		}
		if cost {
			var supplier interface{}
			if item.SupplierID > 0 {
				supplier = item.SupplierID
			}
			values = append(values, supplier, item.PurchaseRef)
		}
		values = append(values, item.Remarks)
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	if len(rows) > 0 {
		if err := f.SetCellStyle(sheet, "G2", fmt.Sprintf("G%d", len(rows)+1), yenStyle); err != nil {
			return err
		}
	}
	return nil
}

func writeTotalsSheet(f *excelize.File, doc Document, yenStyle int) error {
	rows := [][]interface{}{
		{"受注ID", doc.OrderID},
		{"案件名", doc.Title},
		{"顧客", doc.ClientName},
		{"請求合計", doc.Totals.InvoiceTotal.IntPart()},
		{"コスト合計", doc.Totals.CostTotal.IntPart()},
		{"仕入消費税", doc.Totals.CostTax.IntPart()},
		{"控除対象コスト", doc.Totals.DeductibleCost.IntPart()},
		{"利益", doc.Totals.Profit.IntPart()},
		{"出力日時", doc.GeneratedAt.Format("2006-01-02 15:04")},
	}
	for i, row := range rows {
		if err := f.SetSheetRow(sheetTotals, fmt.Sprintf("A%d", i+1), &row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(sheetTotals, "A", "A", 18); err != nil {
		return err
	}
	return f.SetCellStyle(sheetTotals, "B4", "B8", yenStyle)
}
