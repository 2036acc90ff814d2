package auth

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HashPasswordCost хеширует пароль с заданной стоимостью.
// Значения вне [bcrypt.MinCost, bcrypt.MaxCost] заменяются на bcrypt.DefaultCost.
func HashPasswordCost(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	// Соль генерируется bcrypt и хранится внутри самого хеша.
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("ошибка хеширования пароля: %w", err)
	}
	return string(bytes), nil
}

// CheckPasswordHash сравнивает пароль с хешем из хранилища.
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// dummyHashes хранит по одному фиктивному хешу на каждую стоимость.
// Сравнение с ним при входе несуществующего пользователя занимает столько же времени,
// сколько проверка настоящего пароля.
var dummyHashes sync.Map // cost -> string

func dummyHash(cost int) string {
	if h, ok := dummyHashes.Load(cost); ok {
		return h.(string)
	}
	h, err := HashPasswordCost("dummy-password-for-timing", cost)
	if err != nil {
		// bcrypt с корректной стоимостью не падает; пустой хеш просто не совпадет ни с чем.
		return ""
	}
	actual, _ := dummyHashes.LoadOrStore(cost, h)
	return actual.(string)
}
