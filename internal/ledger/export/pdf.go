package export

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
)

var ledgerTemplate = template.Must(template.New("ledger").Funcs(template.FuncMap{
	"yen":      Yen,
	"quantity": Quantity,
	"rate":     Rate,
	"inc":      func(i int) int { return i + 1 },
}).Parse(`<!DOCTYPE html>
<html lang="ja"><head><meta charset="utf-8"><title>{{.Title}}</title>
<style>
body { font-family: "Noto Sans JP", sans-serif; font-size: 11px; }
table { width: 100%; border-collapse: collapse; margin-bottom: 16px; }
th, td { border: 1px solid #999; padding: 4px 6px; }
th { background: #ddebf7; }
td.num { text-align: right; }
</style></head><body>
<h1>{{.Title}}</h1>
<p>受注ID {{.OrderID}}{{if .ClientName}} / {{.ClientName}}{{end}} / {{.GeneratedAt.Format "2006-01-02 15:04"}}</p>
{{define "rows"}}<table><thead><tr><th>No</th><th>品名</th><th>単価</th><th>数量</th><th>単位</th><th>税率</th><th>金額</th><th>備考</th></tr></thead><tbody>
{{range $i, $item := .}}<tr><td>{{inc $i}}</td><td>{{$item.ProductName}}</td><td class="num">{{quantity $item.UnitPrice}}</td><td class="num">{{quantity $item.Quantity}}</td><td>{{$item.Unit}}</td><td class="num">{{rate $item.TaxRate}}</td><td class="num">{{yen $item.Amount}}</td><td>{{$item.Remarks}}</td></tr>
{{end}}</tbody></table>{{end}}
<h2>請求項目</h2>
{{template "rows" .Invoice}}
<h2>コスト項目</h2>
{{template "rows" .Cost}}
<h2>集計</h2>
<table>
<tr><th>請求合計</th><td class="num">{{yen .Totals.InvoiceTotal}}</td></tr>
<tr><th>コスト合計</th><td class="num">{{yen .Totals.CostTotal}}</td></tr>
<tr><th>仕入消費税</th><td class="num">{{yen .Totals.CostTax}}</td></tr>
<tr><th>控除対象コスト</th><td class="num">{{yen .Totals.DeductibleCost}}</td></tr>
<tr><th>利益</th><td class="num">{{yen .Totals.Profit}}</td></tr>
</table>
</body></html>`))

// RenderHTML renders the printable ledger page.
func RenderHTML(doc Document) ([]byte, error) {
	if doc.Title == "" {
		doc.Title = fmt.Sprintf("受注 #%d 明細", doc.OrderID)
	}
	var buf bytes.Buffer
	if err := ledgerTemplate.Execute(&buf, doc); err != nil {
		return nil, fmt.Errorf("render ledger html: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) writePDF(ctx context.Context, w io.Writer, doc Document) error {
	html, err := RenderHTML(doc)
	if err != nil {
		return err
	}
	pdf, err := s.pdf.RenderHTML(ctx, html)
	if err != nil {
		return fmt.Errorf("render ledger pdf: %w", err)
	}
	_, err = w.Write(pdf)
	return err
}
