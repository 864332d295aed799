package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"QDIIRadar/internal/config"
	"QDIIRadar/internal/model"
)

const brand = "QDII Fund Radar"

// alertTitle is the short Chinese label used in subjects and headings.
func alertTitle(a *model.Alert) string {
	switch a.Type {
	case model.AlertPremiumHigh:
		return "高溢价警报"
	case model.AlertPremiumLow:
		return "高折价警报"
	case model.AlertLimitChange:
		return "申购限额变化"
	case model.AlertLimitHigh:
		return "申购限额放宽"
	}
	return "基金警报"
}

// Subject formats the email subject line.
func Subject(a *model.Alert) string {
	return fmt.Sprintf("[QDII Radar] %s: %s (%s)", alertTitle(a), a.FundName, a.FundCode)
}

type row struct {
	label, value string
	highlight    bool
}

func alertRows(a *model.Alert) []row {
	var rows []row
	switch a.Type {
	case model.AlertPremiumHigh, model.AlertPremiumLow:
		rows = append(rows, row{label: "溢价率变化", value: a.OldValue + " → " + a.NewValue})
		if a.Threshold != nil {
			rows = append(rows, row{label: "触发阈值", value: model.FormatRate(*a.Threshold)})
		}
		if a.MarketPrice != nil {
			rows = append(rows, row{label: "场内价格", value: fmt.Sprintf("%.4f", *a.MarketPrice), highlight: true})
		}
		if a.NAV != nil {
			rows = append(rows, row{label: "净值 (NAV)", value: fmt.Sprintf("%.4f", *a.NAV), highlight: true})
		}
		if a.LimitText != "" {
			rows = append(rows, row{label: "申购限制", value: a.LimitText})
		}
	case model.AlertLimitChange:
		rows = append(rows,
			row{label: "之前限额", value: a.OldValue},
			row{label: "当前限额", value: a.NewValue, highlight: true},
		)
	case model.AlertLimitHigh:
		rows = append(rows,
			row{label: "之前限额", value: a.OldValue},
			row{label: "当前限额", value: a.NewValue, highlight: true},
		)
		if a.Threshold != nil {
			rows = append(rows, row{label: "触发阈值", value: fmt.Sprintf("%.0f 元", *a.Threshold)})
		}
	}
	return rows
}

// EmailText renders the plain-text alternative body.
func EmailText(a *model.Alert, at time.Time) string {
	var b strings.Builder
	b.WriteString(alertTitle(a) + "\n\n")
	fmt.Fprintf(&b, "基金名称: %s\n", a.FundName)
	fmt.Fprintf(&b, "基金代码: %s\n\n", a.FundCode)
	for _, r := range alertRows(a) {
		fmt.Fprintf(&b, "%s: %s\n", r.label, r.value)
	}
	fmt.Fprintf(&b, "\n时间: %s\n\n---\n这是一封自动发送的邮件，请勿回复。", at.In(config.Beijing).Format("2006-01-02 15:04"))
	return b.String()
}

// EmailHTML renders the HTML body.
func EmailHTML(a *model.Alert, at time.Time) string {
	var table strings.Builder
	for _, r := range alertRows(a) {
		style := ""
		if r.highlight {
			style = ` style="color:#4b5563;font-weight:700;font-size:18px;"`
		}
		fmt.Fprintf(&table, `<tr><td style="padding:12px 16px;border-top:1px solid #e5e7eb;font-weight:500;color:#374151;">%s</td><td%s>%s</td></tr>`,
			html.EscapeString(r.label), style, html.EscapeString(r.value))
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8" /></head>
<body style="font-family:-apple-system,'Segoe UI',Roboto,Arial,sans-serif;background:#f9fafb;color:#1f2937;padding:20px;">
  <div style="max-width:600px;margin:0 auto;background:#fff;border-radius:12px;overflow:hidden;border:1px solid #e5e7eb;">
    <div style="background:#4b5563;color:#fff;padding:10px;text-align:center;font-weight:700;">%s</div>
    <div style="padding:20px;">
      <div style="display:inline-block;background:#f3f4f6;color:#4b5563;padding:6px 16px;border-radius:20px;font-weight:600;">⚠️ %s</div>
      <div style="background:#f8fafc;border-left:4px solid #4b5563;padding:16px;margin:16px 0;">
        <h3 style="margin:0 0 8px 0;">%s</h3>
        <div style="color:#6b7280;">基金代码: %s</div>
      </div>
      <table style="width:100%%;border-collapse:collapse;">%s</table>
      <div style="color:#9ca3af;font-size:12px;margin-top:16px;">📅 %s</div>
    </div>
    <div style="background:#f9fafb;padding:16px;text-align:center;color:#6b7280;font-size:13px;">
      这是由 %s 自动发送的监控邮件<br>请勿直接回复此邮件
    </div>
  </div>
</body>
</html>`,
		brand,
		html.EscapeString(alertTitle(a)),
		html.EscapeString(a.FundName),
		html.EscapeString(a.FundCode),
		table.String(),
		at.In(config.Beijing).Format("2006年01月02日 15:04"),
		brand,
	)
}

// TelegramText renders an alert as a Telegram HTML message.
func TelegramText(a *model.Alert) string {
	var b strings.Builder
	icon := "⚠️"
	switch a.Type {
	case model.AlertPremiumHigh:
		icon = "📈"
	case model.AlertPremiumLow:
		icon = "📉"
	}
	fmt.Fprintf(&b, "%s <b>%s</b> | %s (%s)\n\n", icon, alertTitle(a), html.EscapeString(a.FundName), a.FundCode)
	for _, r := range alertRows(a) {
		fmt.Fprintf(&b, "%s: %s\n", r.label, html.EscapeString(r.value))
	}
	return b.String()
}

// TestEmailHTML is the body of the SMTP connectivity check.
func TestEmailHTML(at time.Time) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html><body style="font-family:Arial,sans-serif;">
  <div style="max-width:520px;margin:0 auto;padding:16px;">
    <h2>%s 测试邮件</h2>
    <p>如果你收到这封邮件，说明邮件通知配置正确。</p>
    <p style="color:#9ca3af;font-size:12px;">%s</p>
  </div>
</body></html>`, brand, at.In(config.Beijing).Format("2006-01-02 15:04:05"))
}

// FormatStatus renders the monitor status for the ops chat.
func FormatStatus(st model.MonitorStatus) string {
	var b strings.Builder
	b.WriteString("📡 <b>监控状态</b>\n\n")
	running := "已停止"
	if st.IsRunning {
		running = "运行中"
	}
	fmt.Fprintf(&b, "状态: %s\n", running)
	fmt.Fprintf(&b, "邮件通知: %v\n", st.Enabled)
	fmt.Fprintf(&b, "检查间隔: %ds\n", st.CheckIntervalSeconds)
	if st.LastCheckTime != nil {
		fmt.Fprintf(&b, "上次检查: %s\n", st.LastCheckTime.In(config.Beijing).Format("2006-01-02 15:04:05"))
	} else {
		b.WriteString("上次检查: —\n")
	}
	return b.String()
}

// FormatStats renders notification statistics for the ops chat.
func FormatStats(s model.NotificationStats) string {
	var b strings.Builder
	b.WriteString("📊 <b>通知统计</b>\n\n")
	fmt.Fprintf(&b, "累计发送: %d\n", s.TotalSent)
	fmt.Fprintf(&b, "今日发送: %d\n", s.TodaySent)
	for _, t := range model.AllAlertTypes() {
		if n := s.ByType[string(t)]; n > 0 {
			fmt.Fprintf(&b, "  %s: %d\n", t, n)
		}
	}
	return b.String()
}
