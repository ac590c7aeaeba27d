package notification

import (
	"strings"
)

type template struct {
	Title   string
	Message string
}

// templates: язык -> ключ шаблона -> текст. Переменные записываются как {{name}}
var templates = map[string]map[string]template{
	"ru": {
		"booking_created.driver": {
			Title:   "Новое бронирование",
			Message: "{{passengerName}} забронировал(а) мест: {{seats}} на поездку {{from}} → {{to}} ({{departure}}). Подтвердите или отклоните заявку.",
		},
		"booking_created.passenger": {
			Title:   "Бронирование ожидает подтверждения",
			Message: "Ваша заявка на {{seats}} мест(а) в поездке {{from}} → {{to}} отправлена водителю {{driverName}}.",
		},
		"booking_created.operator": {
			Title:   "Новое бронирование",
			Message: "Бронирование #{{bookingId}}: поездка #{{tripId}}, мест: {{seats}}, сумма {{amount}}.",
		},
		"booking_confirmed.passenger": {
			Title:   "Бронирование подтверждено",
			Message: "Водитель {{driverName}} подтвердил вашу поездку {{from}} → {{to}} ({{departure}}).",
		},
		"booking_started.passenger": {
			Title:   "Поездка началась",
			Message: "Водитель {{driverName}} начал поездку {{from}} → {{to}}. Приятной дороги!",
		},
		"booking_cancelled.passenger": {
			Title:   "Бронирование отменено",
			Message: "Ваше бронирование на поездку {{from}} → {{to}} отменено. {{reason}}",
		},
		"booking_cancelled.driver": {
			Title:   "Пассажир отменил бронирование",
			Message: "{{passengerName}} отменил(а) бронирование на {{seats}} мест(а) в поездке {{from}} → {{to}}. {{reason}}",
		},
		"booking_cancelled.operator": {
			Title:   "Отмена бронирования",
			Message: "Бронирование #{{bookingId}} в поездке #{{tripId}} отменено ({{actor}}). {{reason}}",
		},
		"booking_rejected.passenger": {
			Title:   "Бронирование отклонено",
			Message: "Заявка на поездку {{from}} → {{to}} отклонена. {{reason}}",
		},
		"booking_completed.passenger": {
			Title:   "Поездка завершена",
			Message: "Поездка {{from}} → {{to}} завершена. Спасибо, что выбрали нас!",
		},
		"rating_request.passenger": {
			Title:   "Оцените поездку",
			Message: "Как прошла поездка с водителем {{driverName}}? Поставьте оценку.",
		},
		"trip_completed.driver": {
			Title:   "Поездка завершена",
			Message: "Поездка {{from}} → {{to}} завершена. Пассажиров: {{passengers}}, к оплате: {{earned}}.",
		},
		"trip_created.driver": {
			Title:   "Поездка опубликована",
			Message: "Поездка {{from}} → {{to}} ({{departure}}) опубликована, мест: {{seats}}.",
		},
		"trip_created.operator": {
			Title:   "Новая поездка",
			Message: "Водитель {{driverName}} опубликовал поездку #{{tripId}} {{from}} → {{to}}.",
		},
		"trip_cancelled.passenger": {
			Title:   "Поездка отменена",
			Message: "Водитель отменил поездку {{from}} → {{to}} ({{departure}}). Бронирование аннулировано. {{reason}}",
		},
		"trip_cancelled.driver": {
			Title:   "Поездка отменена",
			Message: "Вы отменили поездку {{from}} → {{to}}. Затронуто бронирований: {{affected}}.",
		},
		"trip_cancelled.operator": {
			Title:   "Отмена поездки",
			Message: "Поездка #{{tripId}} отменена водителем {{driverName}}. Затронуто бронирований: {{affected}}. {{reason}}",
		},
		"trip_starting.passenger": {
			Title:   "Поездка начинается",
			Message: "Водитель {{driverName}} начинает поездку {{from}} → {{to}}.",
		},
		"payment_received.passenger": {
			Title:   "Оплата получена",
			Message: "Оплата {{amount}} за бронирование #{{bookingId}} получена.",
		},
		"payment_received.driver": {
			Title:   "Поступила оплата",
			Message: "Пассажир {{passengerName}} оплатил {{amount}} за бронирование #{{bookingId}}.",
		},
		"payment_failed.passenger": {
			Title:   "Ошибка оплаты",
			Message: "Не удалось провести оплату {{amount}} за бронирование #{{bookingId}}.",
		},
		"registration.subject": {
			Title:   "Добро пожаловать!",
			Message: "{{userName}}, регистрация завершена.",
		},
		"password_changed.subject": {
			Title:   "Пароль изменен",
			Message: "Пароль вашего аккаунта был изменен. Если это были не вы, обратитесь в поддержку.",
		},
		"security_alert.subject": {
			Title:   "Предупреждение безопасности",
			Message: "{{reason}}",
		},
		"vehicle_status.subject": {
			Title:   "Статус документов",
			Message: "Статус проверки ваших документов: {{status}}. {{reason}}",
		},
		"account_suspended.subject": {
			Title:   "Аккаунт заблокирован",
			Message: "Ваш аккаунт заблокирован: {{reason}}. Обратитесь к администратору для разблокировки.",
		},
		"account_suspended.chat": {
			Title:   "Блокировка аккаунта",
			Message: "Пользователь {{userName}} (#{{subjectId}}) заблокирован: {{reason}}. Отмен за период: {{count}}.",
		},
		"account_reactivated.subject": {
			Title:   "Аккаунт разблокирован",
			Message: "Ваш аккаунт снова активен.",
		},
		"delivery_failed.chat": {
			Title:   "Уведомление не доставлено",
			Message: "Уведомление {{queueId}} ({{type}}) для пользователя #{{userId}} не доставлено после {{attempts}} попыток: {{error}}",
		},
	},
	"en": {
		"booking_created.driver": {
			Title:   "New booking",
			Message: "{{passengerName}} booked {{seats}} seat(s) on {{from}} → {{to}} ({{departure}}). Please confirm or reject.",
		},
		"booking_created.passenger": {
			Title:   "Booking pending confirmation",
			Message: "Your request for {{seats}} seat(s) on {{from}} → {{to}} was sent to {{driverName}}.",
		},
		"booking_confirmed.passenger": {
			Title:   "Booking confirmed",
			Message: "{{driverName}} confirmed your trip {{from}} → {{to}} ({{departure}}).",
		},
		"booking_started.passenger": {
			Title:   "Trip started",
			Message: "{{driverName}} started the trip {{from}} → {{to}}. Have a good ride!",
		},
		"booking_cancelled.passenger": {
			Title:   "Booking cancelled",
			Message: "Your booking on {{from}} → {{to}} was cancelled. {{reason}}",
		},
		"booking_cancelled.driver": {
			Title:   "Passenger cancelled",
			Message: "{{passengerName}} cancelled {{seats}} seat(s) on {{from}} → {{to}}. {{reason}}",
		},
		"booking_rejected.passenger": {
			Title:   "Booking rejected",
			Message: "Your request for {{from}} → {{to}} was rejected. {{reason}}",
		},
		"booking_completed.passenger": {
			Title:   "Trip completed",
			Message: "Your trip {{from}} → {{to}} is complete. Thank you for riding with us!",
		},
		"rating_request.passenger": {
			Title:   "Rate your trip",
			Message: "How was your trip with {{driverName}}? Leave a rating.",
		},
		"trip_completed.driver": {
			Title:   "Trip completed",
			Message: "Trip {{from}} → {{to}} completed. Passengers: {{passengers}}, payment due: {{earned}}.",
		},
		"trip_created.driver": {
			Title:   "Trip published",
			Message: "Trip {{from}} → {{to}} ({{departure}}) is published with {{seats}} seat(s).",
		},
		"trip_cancelled.passenger": {
			Title:   "Trip cancelled",
			Message: "The driver cancelled {{from}} → {{to}} ({{departure}}). Your booking is void. {{reason}}",
		},
		"trip_cancelled.driver": {
			Title:   "Trip cancelled",
			Message: "You cancelled {{from}} → {{to}}. Affected bookings: {{affected}}.",
		},
		"trip_starting.passenger": {
			Title:   "Trip starting",
			Message: "{{driverName}} is starting the trip {{from}} → {{to}}.",
		},
		"payment_received.passenger": {
			Title:   "Payment received",
			Message: "Payment of {{amount}} for booking #{{bookingId}} was received.",
		},
		"payment_received.driver": {
			Title:   "Payment received",
			Message: "{{passengerName}} paid {{amount}} for booking #{{bookingId}}.",
		},
		"payment_failed.passenger": {
			Title:   "Payment failed",
			Message: "Payment of {{amount}} for booking #{{bookingId}} failed.",
		},
		"registration.subject": {
			Title:   "Welcome!",
			Message: "{{userName}}, your registration is complete.",
		},
		"password_changed.subject": {
			Title:   "Password changed",
			Message: "Your password was changed. Contact support if this wasn't you.",
		},
		"security_alert.subject": {
			Title:   "Security alert",
			Message: "{{reason}}",
		},
		"vehicle_status.subject": {
			Title:   "Document review",
			Message: "Your documents status: {{status}}. {{reason}}",
		},
		"account_suspended.subject": {
			Title:   "Account suspended",
			Message: "Your account was suspended: {{reason}}. Contact an administrator to reactivate it.",
		},
		"account_reactivated.subject": {
			Title:   "Account reactivated",
			Message: "Your account is active again.",
		},
	},
}

// render подставляет переменные в шаблон. Неизвестный язык или
// отсутствующий перевод берутся из русской версии
func render(lang, key string, vars map[string]string) (string, string, bool) {
	tpl, ok := templates[lang][key]
	if !ok {
		tpl, ok = templates[DefaultLanguage][key]
		if !ok {
			return "", "", false
		}
	}

	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(tpl.Title), strings.TrimSpace(r.Replace(tpl.Message)), true
}
