package client

import (
	"context"

	"personal/discord_client/src/resources"
)

func (c *Client) GetGuild(ctx context.Context, guildID resources.Snowflake) (resources.GuildData, error) {
	var guild resources.GuildData
	if err := c.get(ctx, "/guilds/"+guildID.String(), &guild); err != nil {
		return resources.GuildData{}, err
	}
	return guild, nil
}
