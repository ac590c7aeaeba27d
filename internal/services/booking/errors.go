package booking

import "errors"

var (
	// ErrInvalidTransition - смена статуса недопустима из текущего статуса или для этой роли
	ErrInvalidTransition = errors.New("недопустимая смена статуса")
	// ErrSeatsUnavailable - недостаточно свободных мест
	ErrSeatsUnavailable = errors.New("недостаточно свободных мест")
	// ErrTripClosed - поездка не принимает бронирования или изменения
	ErrTripClosed = errors.New("поездка закрыта")
	// ErrUnauthorized - пользователь не участвует в поездке или бронировании
	ErrUnauthorized = errors.New("нет прав на это действие")
	// ErrNotFound - поездка или бронирование не найдены
	ErrNotFound = errors.New("не найдено")
	// ErrInvalidRequest - некорректные параметры запроса
	ErrInvalidRequest = errors.New("некорректный запрос")
)
