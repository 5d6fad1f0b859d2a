package service

const (
	msgGreeting        = "Привет! Я выгружаю статистику курьеров в Excel. Команды: /login, /export, /cancel."
	msgAskLogin        = "Напиши логин"
	msgAskPassword     = "Напиши пароль"
	msgAuthOK          = "Авторизация прошла успешно"
	msgAuthFailed      = "Неправильный логин или пароль"
	msgCancelled       = "Действие отменено"
	msgNothingToCancel = "Нечего отменять"
	msgAuthRequired    = "Для доступа к этой команде необходимо авторизоваться!"
	msgAskRange        = `Укажи диапазон в формате "st-end", например: 14-17`
	msgRangeRetry      = `Ошибка: %s. Попробуй снова указать диапазон в формате "st-end".`
	msgGenerating      = "Формирую файл: %s"
	msgFileNotFound    = "Файл не найден."
	msgSendFailed      = "Не удалось отправить файл."
	msgBusy            = "Файл ещё формируется, подожди."
	msgCannotCancel    = "Формирование файла уже запущено, отменить его нельзя."
	msgWhoAmIAuthed    = "Ты авторизован."
	msgWhoAmIAnon      = "Ты не авторизован. Используй /login."
)
