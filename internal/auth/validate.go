package auth

import "regexp"

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,50}$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

// validUsername はユーザー名の形式（3〜50文字の英数字＋アンダースコア）を検証します。
func validUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// validEmail はメールアドレスの形式を簡易検証します。
func validEmail(email string) bool {
	return emailPattern.MatchString(email)
}
