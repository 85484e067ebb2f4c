package handlers

import "hls-site/config"

type Build struct {
	Date    string `json:"date"`
	ID      string `json:"id"`
	IDShort string `json:"idShort"`
}

func MakeBuild() Build {
	sha := config.GetGitSHA()
	short := sha
	if len(short) > 7 {
		short = short[0:7]
	}
	return Build{
		Date:    config.GetBuildDate(),
		ID:      sha,
		IDShort: short,
	}
}
