package service

import (
	"regexp"
	"strings"

	"github.com/promatch/internal/model"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Шаблоны уведомлений. Уведомления пишутся триггерами на английском с аргументом в
// двойных кавычках; пользователю показывается японский текст с этим аргументом.
var notificationTemplates = map[model.NotificationType]struct {
	title, body, bodyGeneric string
}{
	model.NotificationNewApplication: {
		title:       "新しい応募が届きました",
		body:        "「%s」に新しい応募がありました。",
		bodyGeneric: "案件に新しい応募がありました。",
	},
	model.NotificationApplicationAccepted: {
		title:       "応募が承認されました！",
		body:        "「%s」への応募が承認されました。",
		bodyGeneric: "応募が承認されました。",
	},
	model.NotificationApplicationRejected: {
		title:       "応募結果のお知らせ",
		body:        "「%s」への応募は今回見送りとなりました。",
		bodyGeneric: "応募は今回見送りとなりました。",
	},
	model.NotificationNewMessage: {
		title:       "新しいメッセージ",
		body:        "%sさんから新しいメッセージが届きました。",
		bodyGeneric: "新しいメッセージが届きました。",
	},
	model.NotificationProjectMatched: {
		title:       "おすすめの案件があります",
		body:        "「%s」があなたにマッチしました。",
		bodyGeneric: "あなたにマッチする案件があります。",
	},
}

var (
	quotedArg = regexp.MustCompile(`"([^"]+)"`)
	printer   = newPrinter()
)

func titleKey(t model.NotificationType) string       { return "notification." + string(t) + ".title" }
func bodyKey(t model.NotificationType) string        { return "notification." + string(t) + ".body" }
func bodyGenericKey(t model.NotificationType) string { return "notification." + string(t) + ".body_generic" }

func newPrinter() *message.Printer {
	b := catalog.NewBuilder(catalog.Fallback(language.Japanese))
	for typ, tpl := range notificationTemplates {
		for key, msg := range map[string]string{
			titleKey(typ):       tpl.title,
			bodyKey(typ):        tpl.body,
			bodyGenericKey(typ): tpl.bodyGeneric,
		} {
			if err := b.SetString(language.Japanese, key, msg); err != nil {
				panic("notification catalog: " + err.Error())
			}
		}
	}
	return message.NewPrinter(language.Japanese, message.Catalog(b))
}

// templateArg: первая подстрока в двойных кавычках.
func templateArg(s string) (string, bool) {
	m := quotedArg.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	arg := strings.TrimSpace(m[1])
	return arg, arg != ""
}

func renderTitle(t model.NotificationType) string {
	return printer.Sprintf(titleKey(t))
}

// Render переводит уведомление в заголовок и текст для показа. Тип system и неизвестные
// типы показываются как есть.
func Render(n model.Notification) model.NotificationView {
	v := model.NotificationView{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Body:      n.Message,
		Link:      DeepLink(n),
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
	if _, ok := notificationTemplates[n.Type]; !ok {
		return v
	}
	v.Title = renderTitle(n.Type)
	if arg, ok := templateArg(n.Message); ok {
		v.Body = printer.Sprintf(bodyKey(n.Type), arg)
	} else {
		v.Body = printer.Sprintf(bodyGenericKey(n.Type))
	}
	return v
}

// DeepLink строит путь в приложении по связанной сущности. Если related_type не задан,
// он выводится из типа уведомления.
func DeepLink(n model.Notification) string {
	if n.RelatedID == nil || *n.RelatedID == "" {
		return ""
	}
	kind := ""
	if n.RelatedType != nil {
		kind = *n.RelatedType
	}
	if kind == "" {
		switch n.Type {
		case model.NotificationNewMessage:
			kind = "conversation"
		case model.NotificationNewApplication, model.NotificationApplicationAccepted, model.NotificationApplicationRejected:
			kind = "application"
		case model.NotificationProjectMatched:
			kind = "project"
		}
	}
	switch kind {
	case "conversation":
		return "/messages/" + *n.RelatedID
	case "project":
		return "/projects/" + *n.RelatedID
	case "application":
		return "/applications/" + *n.RelatedID
	}
	return ""
}
