package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeUnknown                  = "UNKNOWN"
	CodeAuth                     = "AUTH_ERROR"
	CodeValidation               = "VALIDATION_ERROR"
	CodeInvalidArgument          = "INVALID_ARGUMENT"
	CodeEmptyInput               = "EMPTY_INPUT"
	CodeRoomAccess               = "ROOM_ACCESS_DENIED"
	CodeRateLimited              = "RATE_LIMITED"
	CodeTranslationUnavailable   = "TRANSLATION_UNAVAILABLE"
	CodeAssistantUnavailable     = "ASSISTANT_UNAVAILABLE"
	CodePersistence              = "PERSISTENCE_ERROR"
	CodeConversationCreateFailed = "CONVERSATION_CREATE_FAILED"
	CodeNotFound                 = "NOT_FOUND"
	CodeAlreadyExists            = "ALREADY_EXISTS"
)

var enUS = map[Code]string{
	CodeUnknown:                  "Something went wrong. Please try again.",
	CodeAuth:                     "Invalid or expired token. Please log in again.",
	CodeValidation:               "The request is missing required fields.",
	CodeInvalidArgument:          "The request contains an invalid value.",
	CodeEmptyInput:               "There is nothing to translate.",
	CodeRoomAccess:               "You are not a member of this conversation.",
	CodeRateLimited:              "Too many messages. Slow down.",
	CodeTranslationUnavailable:   "Translation is unavailable right now. Please try again.",
	CodeAssistantUnavailable:     "The help assistant is unavailable right now. Please try again.",
	CodePersistence:              "Chat history is unavailable right now.",
	CodeConversationCreateFailed: "The conversation could not be started. Please try again.",
	CodeNotFound:                 "Not found.",
	CodeAlreadyExists:            "This email is already registered.",
}

var ptBR = map[Code]string{
	CodeUnknown:                  "Algo deu errado. Tente novamente.",
	CodeAuth:                     "Token inválido ou expirado. Faça login novamente.",
	CodeValidation:               "Faltam campos obrigatórios na requisição.",
	CodeInvalidArgument:          "A requisição contém um valor inválido.",
	CodeEmptyInput:               "Não há nada para traduzir.",
	CodeRoomAccess:               "Você não participa desta conversa.",
	CodeRateLimited:              "Mensagens demais. Vá com calma.",
	CodeTranslationUnavailable:   "A tradução está indisponível no momento. Tente novamente.",
	CodeAssistantUnavailable:     "O assistente de ajuda está indisponível no momento. Tente novamente.",
	CodePersistence:              "O histórico do chat está indisponível no momento.",
	CodeConversationCreateFailed: "Não foi possível iniciar a conversa. Tente novamente.",
	CodeNotFound:                 "Não encontrado.",
	CodeAlreadyExists:            "Este email já está cadastrado.",
}
