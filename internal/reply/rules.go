package reply

import (
	"regexp"
	"strings"
)

// rule maps a keyword pattern to a canned answer. Rules are tried in
// order, first match wins, so the greetings stay ahead of the topical
// ones.
type rule struct {
	pattern  *regexp.Regexp
	response string
}

var quickRules = []rule{
	{
		regexp.MustCompile(`\b(bonjour|salut|hello|coucou|hey)\b`),
		"Bonjour ! Je suis l'assistant virtuel de Free. Comment puis-je vous aider aujourd'hui ?",
	},
	{
		regexp.MustCompile(`\b(merci|remercie|cimer|top|super)\b`),
		"Je vous en prie ! Ravi d'avoir pu vous aider. Avez-vous d'autres questions ?",
	},
	{
		regexp.MustCompile(`\b(au revoir|bye|adieu|a\+|bonne journ(ée|ee)|bonne soir(ée|ee))\b`),
		"Au revoir ! Toute l'équipe Free vous souhaite une excellente journée.",
	},
	{
		regexp.MustCompile(`\b(facture|payer|paiement|prélèvement|montant)\b`),
		"Vous pouvez consulter, télécharger et payer vos factures directement sur votre Espace Abonné : https://subscribe.free.fr/login/\n\nRubrique 'Mon abonnement' > 'Mes factures'.",
	},
	{
		regexp.MustCompile(`\b(mot de passe|mdp|password|identifiant|connexion|connecter)\b`),
		"Pour récupérer vos identifiants ou réinitialiser votre mot de passe, rendez-vous sur la page de connexion de l'Espace Abonné et cliquez sur 'Mot de passe oublié'.",
	},
	{
		regexp.MustCompile(`\b(humain|personne|agent|conseiller|téléphone|appeler|3244)\b`),
		"Si je ne parviens pas à vous aider, vous pouvez contacter nos conseillers au 3244 (appel gratuit depuis une ligne Freebox) ou via l'assistance en visio Face to Free.",
	},
	{
		regexp.MustCompile(`\b(boutique|magasin|center|shop|agence)\b`),
		"Trouvez la boutique Free (Free Center) la plus proche de chez vous ici : https://www.free.fr/boutiques/",
	},
	{
		regexp.MustCompile(`\b(déménagement|déménager|démenagement|demenager)\b`),
		"Vous déménagez ? Déclarez votre déménagement directement dans votre Espace Abonné, rubrique 'Mon abonnement' > 'Déménager mon abonnement'. Pensez à le faire 15 jours avant !",
	},
	{
		regexp.MustCompile(`\b(panne générale|incident|coupure générale)\b`),
		"Vous pouvez vérifier l'état du réseau Free dans votre zone sur : https://www.free-reseau.fr/ ou sur votre Espace Abonné.",
	},
}

// QuickResponse returns the canned answer for a message, or "" when no
// rule matches. Matching is case-insensitive on the trimmed message.
func QuickResponse(message string) string {
	message = strings.ToLower(strings.TrimSpace(message))
	for _, r := range quickRules {
		if r.pattern.MatchString(message) {
			return r.response
		}
	}
	return ""
}
