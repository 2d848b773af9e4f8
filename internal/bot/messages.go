package bot

const (
	msgWelcome = "Hi! Send me topics and I will write detailed study guides about them.\n" +
		"Use the buttons below to manage the queue."
	msgHint           = "Use /add to queue a topic or /generate to get the next article now."
	msgUnknownCommand = "Unknown command. Try /start."
	msgCancelled      = "Cancelled."
	msgAskTopic       = "Send the topic you want to study:"
	msgTopicSaved     = "Topic saved ✅"
	msgInvalidTopic   = "Could not save the topic: %s\nSend another one or /cancel."
	msgAskTime        = "Your daily time is %02d:%02d %s.\nSend a new time as HH:MM:"
	msgInvalidTime    = "Invalid format. Try again (HH:MM)."
	msgTimeChanged    = "✅ Time changed to %02d:%02d %s"
	msgQueueEmpty     = "🚀 The queue is empty."
	msgNoHistory      = "No finished articles yet."
	msgBusy           = "⏳ Still working on your previous request."
	msgSomethingWrong = "Something went wrong, please try again later."
)
