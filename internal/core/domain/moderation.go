package domain

type ModerationCommand string

const (
	CommandMute         ModerationCommand = "mute"
	CommandUnmute       ModerationCommand = "unmute"
	CommandDisableVideo ModerationCommand = "disable-video"
	CommandEnableVideo  ModerationCommand = "enable-video"
	CommandKick         ModerationCommand = "kick"
)

var moderationTypes = map[ModerationCommand]MessageType{
	CommandMute:         TypeModerationMute,
	CommandUnmute:       TypeModerationUnmute,
	CommandDisableVideo: TypeModerationDisableVideo,
	CommandEnableVideo:  TypeModerationEnableVideo,
	CommandKick:         TypeModerationKick,
}

func (c ModerationCommand) MessageType() MessageType {
	return moderationTypes[c]
}

func (c ModerationCommand) Valid() bool {
	_, ok := moderationTypes[c]
	return ok
}

// ModerationFromType maps a moderation-* envelope type back to its command.
func ModerationFromType(t MessageType) (ModerationCommand, bool) {
	for cmd, mt := range moderationTypes {
		if mt == t {
			return cmd, true
		}
	}
	return "", false
}
