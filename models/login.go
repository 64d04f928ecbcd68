package models

// LoginStatus tags a LoginState.
type LoginStatus string

const (
	LoginIdle    LoginStatus = "idle"
	LoginLoading LoginStatus = "loading"
	LoginSuccess LoginStatus = "success"
	LoginError   LoginStatus = "error"
)

// LoginState is the result of a login attempt. Message is only set for LoginError.
type LoginState struct {
	Status  LoginStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

func LoginSucceeded() LoginState { return LoginState{Status: LoginSuccess} }

func LoginFailed(msg string) LoginState { return LoginState{Status: LoginError, Message: msg} }
