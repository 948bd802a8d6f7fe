package notify

import (
	"fmt"

	"github.com/jcastillo/ticketero/internal/model"
)

// Message templates mirror the totem wording: created, upcoming turn,
// and your-turn. HTML tags are for Telegram's parse mode.

func TicketCreatedMessage(t *model.Ticket) string {
	return fmt.Sprintf(
		"✅ <b>Ticket Creado</b>\n\n"+
			"Tu número de turno: <b>%s</b>\n"+
			"Cola: <b>%s</b>\n"+
			"Posición en cola: <b>#%d</b>\n"+
			"Espera estimada: <b>%d minutos</b>\n\n"+
			"Te notificaremos cuando estés próximo.",
		t.Numero, t.QueueType.DisplayName(), t.PositionInQueue, t.EstimatedWaitMinutes,
	)
}

func UpcomingTurnMessage(t *model.Ticket) string {
	return fmt.Sprintf(
		"⏰ <b>Tu turno está próximo</b>\n\n"+
			"Número de turno: <b>%s</b>\n"+
			"Posición actual: <b>#%d</b>\n\n"+
			"Acércate a la sucursal.",
		t.Numero, t.PositionInQueue,
	)
}

func YourTurnMessage(t *model.Ticket, module int) string {
	return fmt.Sprintf(
		"🔔 <b>¡Es tu turno!</b>\n\n"+
			"Número de turno: <b>%s</b>\n"+
			"Dirígete al módulo <b>%d</b>.",
		t.Numero, module,
	)
}
