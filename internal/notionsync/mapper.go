package notionsync

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
)

// Property names of the modifications database.
const (
	PropModificationID = "Modification ID"
	PropSession        = "Session"
	PropTransactionID  = "Transaction ID"
	PropType           = "Type"
	PropStatus         = "Status"
	PropDate           = "Date"
	PropOriginalDate   = "Original Date"
	PropAmount         = "Amount"
	PropMerchant       = "Merchant"
	PropReason         = "Reason"
)

// ModificationToProperties converts a ledger entry to Notion page properties.
func ModificationToProperties(sessionID string, m domain.CalendarModification) notionapi.Properties {
	amount, _ := m.Amount.Float64()
	props := notionapi.Properties{
		PropModificationID: notionapi.TitleProperty{
			Title: richText(m.ModificationID),
		},
		PropSession: notionapi.RichTextProperty{
			RichText: richText(sessionID),
		},
		PropTransactionID: notionapi.RichTextProperty{
			RichText: richText(m.TransactionID),
		},
		PropType: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(m.Kind)},
		},
		PropStatus: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(m.Status)},
		},
		PropAmount: notionapi.NumberProperty{
			Number: amount,
		},
		PropReason: notionapi.RichTextProperty{
			RichText: richText(m.Reason),
		},
	}

	if d := m.EffectiveDate(); d.IsValid() {
		props[PropDate] = dateProperty(d)
	}
	if m.OriginalDate != nil {
		props[PropOriginalDate] = dateProperty(*m.OriginalDate)
	}
	if m.Merchant != "" {
		props[PropMerchant] = notionapi.RichTextProperty{
			RichText: richText(m.Merchant),
		}
	}
	return props
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: s},
		},
	}
}

func dateProperty(d civil.Date) notionapi.DateProperty {
	start := notionapi.Date(time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC))
	return notionapi.DateProperty{
		Date: &notionapi.DateObject{Start: &start},
	}
}

// pageModificationID reads the title property written by ModificationToProperties.
func pageModificationID(page notionapi.Page) string {
	if prop, ok := page.Properties[PropModificationID]; ok {
		if title, ok := prop.(*notionapi.TitleProperty); ok && len(title.Title) > 0 {
			return title.Title[0].PlainText
		}
	}
	return ""
}

func pageSession(page notionapi.Page) string {
	if prop, ok := page.Properties[PropSession]; ok {
		if rt, ok := prop.(*notionapi.RichTextProperty); ok && len(rt.RichText) > 0 {
			return rt.RichText[0].PlainText
		}
	}
	return ""
}
