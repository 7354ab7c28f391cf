package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/KantanPro/ktp-ledger/internal/ledger"
)

// utf8BOM lets spreadsheet software detect the encoding of Japanese text.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var csvHeader = []string{"区分", "No", "品名", "単価", "数量", "単位", "税率", "金額", "仕入先ID", "仕入番号", "備考"}

// WriteCSV writes both tables followed by a totals block.
func WriteCSV(w io.Writer, doc Document) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, rows := range [][]ledger.LineItem{doc.Invoice, doc.Cost} {
		for i, item := range rows {
			if err := cw.Write(csvRow(i+1, item)); err != nil {
				return err
			}
		}
	}
	totals := [][]string{
		{},
		{"請求合計", doc.Totals.InvoiceTotal.String()},
		{"コスト合計", doc.Totals.CostTotal.String()},
		{"仕入消費税", doc.Totals.CostTax.String()},
		{"控除対象コスト", doc.Totals.DeductibleCost.String()},
		{"利益", doc.Totals.Profit.String()},
	}
	if err := cw.WriteAll(totals); err != nil {
		return err
	}
	return cw.Error()
}

func csvRow(n int, item ledger.LineItem) []string {
	rate := ""
	if item.TaxRate != nil {
		rate = item.TaxRate.String()
	}
	supplier := ""
	if item.SupplierID > 0 {
		supplier = strconv.FormatInt(item.SupplierID, 10)
	}
	return []string{
		typeLabel(item.Type),
		strconv.Itoa(n),
		item.ProductName,
		item.UnitPrice.String(),
		item.Quantity.String(),
		item.Unit,
		rate,
		item.Amount.String(),
		supplier,
		item.PurchaseRef,
		item.Remarks,
	}
}
