package bot

import (
	"errors"

	"github.com/Iskam31/YADISKTGBOT/internal/creds"
	"github.com/Iskam31/YADISKTGBOT/internal/navigator"
	"github.com/Iskam31/YADISKTGBOT/internal/pathtoken"
	"github.com/Iskam31/YADISKTGBOT/internal/remote"
	"github.com/Iskam31/YADISKTGBOT/internal/store"
	"github.com/Iskam31/YADISKTGBOT/internal/transfer"
)

// translate turns pipeline and navigation errors into user-facing Russian
// text. Each failure keeps its identity: an expired button reads differently
// from a rejected token, and a publish failure admits the file was written.
func translate(err error) string {
	var oversized *transfer.OversizedError
	var fetch *transfer.FetchError

	switch {
	case errors.Is(err, store.ErrNotConfigured):
		return "🔑 Сначала подключите диск: /settoken"
	case errors.Is(err, creds.ErrInvalid):
		return "🔑 Токен перестал работать. Обновите его: /settoken"
	case errors.Is(err, pathtoken.ErrStaleReference):
		return "♻️ Кнопка устарела, откройте диск заново: /disk"
	case errors.Is(err, pathtoken.ErrInvalidToken):
		return "Не понимаю эту кнопку."
	case errors.As(err, &oversized):
		return "⚖️ Файл слишком большой: " + navigator.FormatSize(oversized.Size) +
			" при лимите " + navigator.FormatSize(oversized.Limit) + "."
	case errors.As(err, &fetch):
		return "⚠️ Не удалось скачать файл из чата, попробуйте ещё раз."
	case errors.Is(err, remote.ErrUnauthorized):
		return "🔑 Диск отверг сохранённый токен. Обновите его: /settoken"
	case errors.Is(err, remote.ErrNotFound):
		return "🤷 На диске такого уже нет. Обновите список: /disk"
	}

	switch remote.OpOf(err) {
	case remote.OpList, remote.OpStat:
		return "⚠️ Не удалось прочитать папку на диске, попробуйте позже."
	case remote.OpWriteTarget, remote.OpWrite:
		return "⚠️ Диск не принял файл, попробуйте позже."
	case remote.OpPublish:
		return "⚠️ Файл записан, но публичная ссылка не получилась. Опубликовать можно через /disk."
	case remote.OpDelete:
		return "⚠️ Не удалось удалить, попробуйте ещё раз."
	case remote.OpMkdir:
		return "⚠️ Не удалось создать папку на диске."
	case remote.OpUsage:
		return "⚠️ Не удалось узнать место на диске."
	}

	return "⚠️ Что-то пошло не так, попробуйте ещё раз."
}
