package models

// Actor - инициатор изменения статуса
type Actor string

const (
	ActorDriver    Actor = "driver"
	ActorPassenger Actor = "passenger"
	ActorAdmin     Actor = "admin"
	ActorSystem    Actor = "system"
)

// Valid проверяет значение инициатора
func (a Actor) Valid() bool {
	switch a {
	case ActorDriver, ActorPassenger, ActorAdmin, ActorSystem:
		return true
	}
	return false
}
