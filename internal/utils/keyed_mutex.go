package utils

import (
	"fmt"
	"sync"
)

// KeyedMutex сериализует работу по ключу (поездка, пользователь).
// Неиспользуемые ключи удаляются, чтобы карта не росла бесконечно
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock захватывает ключ и возвращает функцию освобождения
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// TripKey и UserKey - ключи блокировок движка бронирований
func TripKey(id uint) string { return fmt.Sprintf("trip:%d", id) }

func UserKey(id uint) string { return fmt.Sprintf("user:%d", id) }
