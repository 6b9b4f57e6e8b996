package realtime

import "errors"

// Business-rule errors surfaced to clients as error frames. The texts
// are user-facing and shown verbatim by the quiz UI and the console
// displays, hence Portuguese.
var (
	ErrNotRegistered  = errors.New("Dispositivo não registrado")
	ErrAlreadyInRoom  = errors.New("Dispositivo já está em uma sala")
	ErrNotInRoom      = errors.New("Dispositivo não está em uma sala")
	ErrRoomNotFound   = errors.New("Sala não encontrada")
	ErrRoomNotWaiting = errors.New("A sala já está em jogo")
	ErrAlreadyJoined  = errors.New("Dispositivo já está na sala")
	ErrNotHost        = errors.New("Apenas o host pode executar esta ação")
	ErrNoActiveRound  = errors.New("Nenhuma pergunta ativa na sala")
	ErrGameFinished   = errors.New("O jogo já terminou")
	ErrInvalidButton  = errors.New("Botão inválido")
)
