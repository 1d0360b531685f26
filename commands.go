package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"

	"github.com/leeineian/hibiki/player"
	"github.com/leeineian/hibiki/sys"
)

const (
	MsgServerOnly     = "This command can only be used in a server."
	MsgNotInVoice     = "You need to be in a voice channel first."
	MsgNothingFound   = "Nothing found for **%s**."
	MsgNothingPlaying = "Nothing is playing."
	MsgTrackQueued    = "Queued **%s** (%s)"
	MsgPlaylistQueued = "Queued **%s** (%d tracks)"
	MsgSkipped        = "Skipped."
	MsgPaused         = "Paused."
	MsgResumed        = "Resumed."
	MsgStopped        = "Stopped and left the channel."
	MsgVolumeSet      = "Volume set to %d%%."
	MsgRepeatSet      = "Repeat mode set to **%s**."
	MsgQueueEmpty     = "The queue is empty."
	MsgSearchFailed   = "Search failed: %v"
	MsgHistoryEmpty   = "No playback history yet."
	MsgHistoryTotal   = "Total plays: %d"
	MsgUnknownCommand = "Unknown command: %s"

	maxQueueEntries   = 10
	maxHistoryEntries = 10
)

func commands() []discord.ApplicationCommandCreate {
	djPerm := discord.PermissionMuteMembers

	return []discord.ApplicationCommandCreate{
		discord.SlashCommandCreate{
			Name:        "play",
			Description: "Play a track, playlist or search result",
			Contexts: []discord.InteractionContextType{
				discord.InteractionContextTypeGuild,
			},
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:         "query",
					Description:  "A link or search text",
					Required:     true,
					Autocomplete: true,
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        "skip",
			Description: "Skip the current track",
			Contexts: []discord.InteractionContextType{
				discord.InteractionContextTypeGuild,
			},
		},
		discord.SlashCommandCreate{
			Name:        "pause",
			Description: "Pause playback",
			Contexts: []discord.InteractionContextType{
				discord.InteractionContextTypeGuild,
			},
		},
		discord.SlashCommandCreate{
			Name:        "resume",
			Description: "Resume playback",
			Contexts: []discord.InteractionContextType{
				discord.InteractionContextTypeGuild,
			},
		},
		discord.SlashCommandCreate{
			Name:        "volume",
			Description: "Set playback volume",
			Contexts: []discord.InteractionContextType{
				discord.InteractionContextTypeGuild,
			},
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionInt{
					Name:        "level",
					Description: "Volume percentage (0-200)",
					Required:    true,
					MinValue:    intPtr(0),
					MaxValue:    intPtr(200),
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        "repeat",
			Description: "Set the repeat mode",
			Contexts: []discord.InteractionContextType{
				discord.InteractionContextTypeGuild,
			},
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:        "mode",
					Description: "What to repeat",
					Required:    true,
					Choices: []discord.ApplicationCommandOptionChoiceString{
						{Name: "off", Value: "off"},
						{Name: "track", Value: "track"},
						{Name: "queue", Value: "queue"},
					},
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        "queue",
			Description: "Show the current queue",
			Contexts: []discord.InteractionContextType{
				discord.InteractionContextTypeGuild,
			},
		},
		discord.SlashCommandCreate{
			Name:        "history",
			Description: "Show recently played tracks",
			Contexts: []discord.InteractionContextType{
				discord.InteractionContextTypeGuild,
			},
		},
		discord.SlashCommandCreate{
			Name:                     "stop",
			Description:              "Stop playback and leave the channel",
			DefaultMemberPermissions: omit.New(&djPerm),
			Contexts: []discord.InteractionContextType{
				discord.InteractionContextTypeGuild,
			},
		},
	}
}

func (b *Bot) handleCommand(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	switch data.CommandName() {
	case "play":
		b.handlePlay(event, data)
	case "skip":
		b.handleSkip(event)
	case "pause":
		b.handlePause(event)
	case "resume":
		b.handleResume(event)
	case "volume":
		b.handleVolume(event, data)
	case "repeat":
		b.handleRepeat(event, data)
	case "queue":
		b.handleQueue(event)
	case "history":
		b.handleHistory(event)
	case "stop":
		b.handleStop(event)
	default:
		sys.LogWarn(MsgUnknownCommand, data.CommandName())
	}
}

func (b *Bot) handlePlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	guildID := event.GuildID()
	if guildID == nil {
		respond(event, MsgServerOnly, true)
		return
	}

	voiceState, ok := event.Client().Caches.VoiceState(*guildID, event.User().ID)
	if !ok || voiceState.ChannelID == nil {
		respond(event, MsgNotInVoice, true)
		return
	}

	query := data.String("query")
	if err := event.DeferCreateMessage(false); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := b.orchestrator.Search(ctx, query, player.SearchOptions{
		RequestedBy: event.User().ID,
	})
	if err != nil {
		edit(event, fmt.Sprintf(MsgSearchFailed, err))
		return
	}
	if len(result.Tracks) == 0 {
		edit(event, fmt.Sprintf(MsgNothingFound, query))
		return
	}

	b.connector.setChannel(*guildID, *voiceState.ChannelID)
	sess := b.orchestrator.CreateSession(*guildID, nil)

	if settings, err := sys.GetGuildSettings(ctx, *guildID); err == nil && settings != nil {
		_ = sess.SetVolume(settings.Volume)
		_ = sess.SetRepeatMode(player.RepeatMode(settings.RepeatMode))
	}

	// A playlist query enqueues everything it expanded to; a search query
	// enqueues only the top hit.
	tracks := result.Tracks
	if result.Playlist == nil {
		tracks = tracks[:1]
	}
	if err := sess.Enqueue(tracks...); err != nil {
		edit(event, fmt.Sprintf(MsgSearchFailed, err))
		return
	}

	if result.Playlist != nil {
		edit(event, fmt.Sprintf(MsgPlaylistQueued, result.Playlist.Title, result.Playlist.Len()))
	} else {
		t := tracks[0]
		edit(event, fmt.Sprintf(MsgTrackQueued, t.Title, t.Duration))
	}
}

// handlePlayAutocomplete suggests tracks for free-text queries. Link-shaped
// input is left alone so pasted URLs submit unchanged.
func (b *Bot) handlePlayAutocomplete(event *events.AutocompleteInteractionCreate) {
	focused := event.Data.Focused()
	if focused.Name != "query" {
		return
	}
	query := strings.TrimSpace(focused.String())
	if query == "" || player.DetectQueryType(query) != player.QuerySearch {
		_ = event.AutocompleteResult(nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result, err := b.orchestrator.Search(ctx, query, player.SearchOptions{})
	if err != nil {
		_ = event.AutocompleteResult(nil)
		return
	}

	var choices []discord.AutocompleteChoice
	for i, t := range result.Tracks {
		if i >= 25 {
			break
		}
		name := t.Title
		if t.Author != "" {
			name = t.Title + " - " + t.Author
		}
		if len(name) > 100 {
			name = name[:97] + "..."
		}
		val := t.URL
		if len(val) > 100 {
			val = name
		}
		choices = append(choices, discord.AutocompleteChoiceString{
			Name:  name,
			Value: val,
		})
	}
	_ = event.AutocompleteResult(choices)
}

func (b *Bot) handleSkip(event *events.ApplicationCommandInteractionCreate) {
	sess, ok := b.sessionFor(event)
	if !ok {
		return
	}
	if err := sess.Skip(); err != nil {
		respond(event, MsgNothingPlaying, true)
		return
	}
	respond(event, MsgSkipped, false)
}

func (b *Bot) handlePause(event *events.ApplicationCommandInteractionCreate) {
	sess, ok := b.sessionFor(event)
	if !ok {
		return
	}
	if err := sess.Pause(); err != nil {
		respond(event, MsgNothingPlaying, true)
		return
	}
	respond(event, MsgPaused, false)
}

func (b *Bot) handleResume(event *events.ApplicationCommandInteractionCreate) {
	sess, ok := b.sessionFor(event)
	if !ok {
		return
	}
	if err := sess.Resume(); err != nil {
		respond(event, MsgNothingPlaying, true)
		return
	}
	respond(event, MsgResumed, false)
}

func (b *Bot) handleVolume(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	sess, ok := b.sessionFor(event)
	if !ok {
		return
	}
	level := data.Int("level")
	if err := sess.SetVolume(float64(level) / 100); err != nil {
		respond(event, MsgNothingPlaying, true)
		return
	}
	if guildID := event.GuildID(); guildID != nil {
		_ = sys.SetGuildVolume(context.Background(), *guildID, float64(level)/100)
	}
	respond(event, fmt.Sprintf(MsgVolumeSet, level), false)
}

func (b *Bot) handleRepeat(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	sess, ok := b.sessionFor(event)
	if !ok {
		return
	}
	mode := player.RepeatOff
	switch data.String("mode") {
	case "track":
		mode = player.RepeatTrack
	case "queue":
		mode = player.RepeatQueue
	}
	if err := sess.SetRepeatMode(mode); err != nil {
		respond(event, MsgNothingPlaying, true)
		return
	}
	if guildID := event.GuildID(); guildID != nil {
		_ = sys.SetGuildRepeatMode(context.Background(), *guildID, int(mode))
	}
	respond(event, fmt.Sprintf(MsgRepeatSet, mode), false)
}

func (b *Bot) handleQueue(event *events.ApplicationCommandInteractionCreate) {
	sess, ok := b.sessionFor(event)
	if !ok {
		return
	}
	rec, err := sess.Serialize(false)
	if err != nil {
		respond(event, MsgNothingPlaying, true)
		return
	}

	var sb strings.Builder
	if rec.Current != nil {
		fmt.Fprintf(&sb, "Now playing: **%s** (%s)\n", rec.Current.Title, rec.Current.Duration)
	}
	if len(rec.Queue) == 0 && rec.Current == nil {
		respond(event, MsgQueueEmpty, true)
		return
	}
	for i, t := range rec.Queue {
		if i >= maxQueueEntries {
			fmt.Fprintf(&sb, "... and %d more\n", len(rec.Queue)-i)
			break
		}
		fmt.Fprintf(&sb, "%d. **%s** (%s)\n", i+1, t.Title, t.Duration)
	}
	respond(event, sb.String(), false)
}

func (b *Bot) handleHistory(event *events.ApplicationCommandInteractionCreate) {
	guildID := event.GuildID()
	if guildID == nil {
		respond(event, MsgServerOnly, true)
		return
	}
	records, err := sys.GetRecentPlays(context.Background(), *guildID, maxHistoryEntries)
	if err != nil || len(records) == 0 {
		respond(event, MsgHistoryEmpty, true)
		return
	}
	var sb strings.Builder
	for i, r := range records {
		fmt.Fprintf(&sb, "%d. **%s** (%s)\n", i+1, r.Title, player.FormatDuration(r.DurationMS))
	}
	if total, err := sys.GetPlayCount(context.Background(), *guildID); err == nil {
		fmt.Fprintf(&sb, MsgHistoryTotal+"\n", total)
	}
	respond(event, sb.String(), true)
}

func (b *Bot) handleStop(event *events.ApplicationCommandInteractionCreate) {
	guildID := event.GuildID()
	if guildID == nil {
		respond(event, MsgServerOnly, true)
		return
	}
	b.orchestrator.DeleteSession(*guildID)
	_ = b.client.UpdateVoiceState(context.Background(), *guildID, nil, false, false)
	respond(event, MsgStopped, false)
}

func (b *Bot) sessionFor(event *events.ApplicationCommandInteractionCreate) (*player.Session, bool) {
	guildID := event.GuildID()
	if guildID == nil {
		respond(event, MsgServerOnly, true)
		return nil, false
	}
	sess := b.orchestrator.Session(*guildID)
	if sess == nil {
		respond(event, MsgNothingPlaying, true)
		return nil, false
	}
	return sess, true
}

func respond(event *events.ApplicationCommandInteractionCreate, content string, ephemeral bool) {
	_ = event.CreateMessage(discord.NewMessageCreate().
		WithContent(content).
		WithEphemeral(ephemeral))
}

func edit(event *events.ApplicationCommandInteractionCreate, content string) {
	_, _ = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.MessageUpdate{
		Content: &content,
	})
}

func intPtr(v int) *int { return &v }
